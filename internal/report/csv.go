package report

import (
	"encoding/csv"
	"io"
	"strings"

	"skiptracer/internal/batch"
)

var csvHeader = []string{"address", "name", "phones", "city_state", "source", "status", "error"}

// CSVWriter 每个 match 一行; 没有 match 的地址也输出一行, 以便看到状态和错误。
type CSVWriter struct {
	w io.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

func (w *CSVWriter) Write(results []batch.Result) error {
	cw := csv.NewWriter(w.w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		st := status(r)
		if len(r.Matches) == 0 {
			if err := cw.Write([]string{r.Address, "", "", "", "", st, errText(r.Err)}); err != nil {
				return err
			}
			continue
		}
		for _, m := range r.Matches {
			row := []string{r.Address, m.Name, strings.Join(m.Phones, "; "), m.CityState, m.Source, st, ""}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
