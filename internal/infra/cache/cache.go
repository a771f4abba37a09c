package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/kinopl/internal/infra/fsx"
)

// Store 提供 <out>/cache/sources/ 下的原始响应缓存读写（用于排查页面结构漂移）。
//
// 约束：ReadOnly=true 时只允许读。
type Store struct {
	Root     string // <out>（输出根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Path 返回 <Root>/cache/sources/<source>/<key>.<ext>。
func (s Store) Path(source, key, ext string) (string, error) {
	src, err := cleanName("source", source)
	if err != nil {
		return "", err
	}
	k, err := cleanName("key", key)
	if err != nil {
		return "", err
	}
	e, err := cleanName("ext", ext)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, "cache", "sources", src, k+"."+e), nil
}

// Read 返回缓存内容；不存在时 ok=false 且 err=nil。
func (s Store) Read(source, key, ext string) ([]byte, bool, error) {
	path, err := s.Path(source, key, ext)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Write 原子写入（覆盖已有缓存）。
func (s Store) Write(source, key, ext string, data []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.Path(source, key, ext)
	if err != nil {
		return err
	}
	return fsx.WriteFile(path, data)
}

// 允许波兰语字母（key 里含城市 slug，例如 "kraków_2026-01-11"）。
var nameRE = regexp.MustCompile(`^[\p{L}\p{N}_-][\p{L}\p{N}_.-]*$`)

func cleanName(what, v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", fmt.Errorf("%s 不能为空", what)
	}
	// 最小约束：避免路径穿越。
	if !nameRE.MatchString(v) || strings.Contains(v, "..") {
		return "", fmt.Errorf("非法 %s：%q", what, v)
	}
	return v, nil
}
