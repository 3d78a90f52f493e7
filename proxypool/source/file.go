package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skiptracer/proxypool/model"
)

// FileSource 从本地文本文件读取代理，每行一个。
type FileSource struct {
	path string
	kind model.Kind
}

func NewFileSource(path string, kind model.Kind) *FileSource {
	return &FileSource{path: path, kind: kind}
}

func (s *FileSource) Name() string {
	return "file:" + filepath.Base(s.path)
}

func (s *FileSource) Fetch(ctx context.Context) ([]*model.ProxyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}
	return ParseProxyLines(strings.Split(string(data), "\n"), s.kind, s.Name()), nil
}
