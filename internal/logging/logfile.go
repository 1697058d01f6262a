package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LogFile 追加写入的日志文件，同时镜像到标准输出
type LogFile struct {
	Path   string   // 日志文件路径（仅输出到终端时为空）
	file   *os.File // 打开的文件句柄
	writer io.Writer
}

// OpenLogFile 打开日志文件
//
// 输出规则:
//   - 空字符串: 仅输出到 mirror
//   - "none": 丢弃
//   - 路径: 追加写入文件并镜像到 mirror
func OpenLogFile(path string, mirror io.Writer) (*LogFile, error) {
	if mirror == nil {
		mirror = io.Discard
	}
	lf := &LogFile{}

	switch path {
	case "":
		lf.writer = mirror
		return lf, nil
	case "none":
		lf.writer = io.Discard
		return lf, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录 %q 失败: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件 %q 失败: %w", path, err)
	}

	lf.Path = path
	lf.file = f
	lf.writer = io.MultiWriter(f, mirror)
	return lf, nil
}

// Writer 返回日志输出
func (lf *LogFile) Writer() io.Writer {
	return lf.writer
}

// Close 关闭已打开的文件
func (lf *LogFile) Close() error {
	if lf.file != nil {
		return lf.file.Close()
	}
	return nil
}
