package report

import (
	"encoding/json"
	"io"

	"skiptracer/internal/batch"
	"skiptracer/internal/search"
)

// JSONLinesWriter 每行输出一个 match, 与 lookup 命令的输出一致。
type JSONLinesWriter struct {
	enc *json.Encoder
}

func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLinesWriter{enc: enc}
}

// WriteMatches 输出一组 match。
func (w *JSONLinesWriter) WriteMatches(matches []search.Match) error {
	for _, m := range matches {
		if m.Phones == nil {
			m.Phones = []string{}
		}
		if err := w.enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

type addressLine struct {
	Address string `json:"address"`
	search.Match
}

// Write 输出所有结果的 match, 每行附带查询地址。没有结果的地址不输出。
func (w *JSONLinesWriter) Write(results []batch.Result) error {
	for _, r := range results {
		for _, m := range r.Matches {
			if m.Phones == nil {
				m.Phones = []string{}
			}
			if err := w.enc.Encode(addressLine{Address: r.Address, Match: m}); err != nil {
				return err
			}
		}
	}
	return nil
}
