// Package report writes skip-trace results as JSON lines, CSV or a Markdown
// summary.
package report

import (
	"errors"
	"fmt"
	"io"

	"skiptracer/internal/batch"
	"skiptracer/internal/store"
)

var ErrUnknownFormat = errors.New("unknown report format")

// Writer 输出一批结果。
type Writer interface {
	Write(results []batch.Result) error
}

// New 按格式名创建 Writer: jsonl, csv 或 md。
func New(format string, w io.Writer) (Writer, error) {
	switch format {
	case "jsonl", "json":
		return NewJSONLinesWriter(w), nil
	case "csv":
		return NewCSVWriter(w), nil
	case "md", "markdown":
		return NewMarkdownWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// status 返回结果的状态文本。
func status(r batch.Result) string {
	switch {
	case r.Err != nil:
		return store.StatusError
	case len(r.Matches) > 0:
		return store.StatusMatched
	default:
		return store.StatusEmpty
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
