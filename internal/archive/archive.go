// Package archive 把每日产出的 CSV/JSON 复制为按日期分目录的只读快照，并可选上传到 S3。
//
// 目录布局：<Dir>/<date>/<stamp>/<file>，stamp 为运行开始时间（UTC，秒级）。
// 快照只新增不覆盖：同一 stamp 下重复写入视为错误。
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/kinopl/internal/infra/fsx"
)

const stampLayout = "20060102T150405Z"

// Uploader 是对象存储的最小写入能力。
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

type Archiver struct {
	Dir string

	// Uploader 为 nil 时只做本地快照。
	Uploader Uploader
	Prefix   string

	Log logrus.FieldLogger
}

// Result 是一次快照的产物。
type Result struct {
	Local        []string
	Uploaded     []string
	UploadFailed []string
}

// Snapshot 把 files 复制到 <Dir>/<date>/<stamp>/ 下。
// 只有本地快照失败才返回错误；上传失败记录在 Result.UploadFailed 中。
func (a *Archiver) Snapshot(ctx context.Context, date string, at time.Time, files []string) (Result, error) {
	var res Result
	if strings.TrimSpace(a.Dir) == "" || len(files) == 0 {
		return res, nil
	}
	stamp := at.UTC().Format(stampLayout)
	dir := filepath.Join(a.Dir, date, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}

	log := a.logger().WithFields(logrus.Fields{"date": date, "dir": dir})
	for _, src := range files {
		b, err := os.ReadFile(src)
		if err != nil {
			return res, fmt.Errorf("读取待归档文件失败：%w", err)
		}
		name := filepath.Base(src)
		if err := fsx.WriteFileNew(filepath.Join(dir, name), b); err != nil {
			return res, fmt.Errorf("写入快照失败：%w", err)
		}
		res.Local = append(res.Local, filepath.Join(dir, name))

		if a.Uploader == nil {
			continue
		}
		key := path.Join(strings.Trim(a.Prefix, "/"), date, stamp, name)
		if err := a.Uploader.Upload(ctx, key, b, contentType(name)); err != nil {
			log.WithError(err).WithField("key", key).Warn("快照上传失败")
			res.UploadFailed = append(res.UploadFailed, key)
			continue
		}
		res.Uploaded = append(res.Uploaded, key)
	}
	log.WithField("files", len(res.Local)).Debug("快照完成")
	return res, nil
}

func (a *Archiver) logger() logrus.FieldLogger {
	if a.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return a.Log
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
