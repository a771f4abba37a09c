// Package fsx 提供导出文件的原子写入：先写同目录临时文件，再 rename/link 到目标。
// 读者（sheets/merge、外部脚本）因此永远看不到写了一半的 CSV/JSON。
package fsx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename/link 失败。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFile 原子写入 path 并覆盖同名文件（Windows 上为 best-effort）。
// 日导出 CSV/JSON、cache、report 都用它。
func WriteFile(path string, data []byte) error {
	if err := checkTarget(path); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	return writeAtomic(path, data, func(tmp, dst string) error {
		return renameFunc(tmp, dst)
	})
}

// WriteFileNew 原子写入 path；目标已存在时返回 os.ErrExist，已有内容不变。
//
// 用 link 而不是 rename 落地：两个进程同时写同一快照时，只有一个会成功。
// 文件系统不支持硬链接时退化为“检查后 rename”。
func WriteFileNew(path string, data []byte) error {
	if err := checkTarget(path); err != nil {
		return err
	}
	return writeAtomic(path, data, func(tmp, dst string) error {
		err := linkFunc(tmp, dst)
		if err == nil || errors.Is(err, os.ErrExist) {
			return err
		}
		if err := checkTarget(dst); err != nil {
			return err
		}
		return renameFunc(tmp, dst)
	})
}

// WriteJSON 以两空格缩进写出 v（末尾换行），覆盖已有文件。
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(path, append(b, '\n'))
}

// checkTarget：不存在返回 nil；是普通文件返回 os.ErrExist；其他类型返回 PathTypeConflictError。
func checkTarget(dst string) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return os.ErrExist
}

func writeAtomic(dst string, data []byte, commit func(tmp, dst string) error) error {
	dst = filepath.Clean(dst)
	dir, name := filepath.Split(dst)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 临时文件前缀带 '.'，避免被 scan 当作日导出文件。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := commit(tmpName, dst); err != nil {
		return err
	}
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
