package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"skiptracer/internal/search"
)

var ErrNoAddresses = errors.New("no addresses in input")

// ReadAddresses 从 CSV 读取地址。表头包含 address 列时使用该列;
// 否则包含 street 列时拼接 street, city, state zip; 都没有时把每行第一列当作地址 (无表头)。
func ReadAddresses(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoAddresses
	}

	cols := map[string]int{}
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var extract func(row []string) string
	body := records[1:]
	if i, ok := cols["address"]; ok {
		extract = func(row []string) string { return field(row, i) }
	} else if street, ok := cols["street"]; ok {
		city, hasCity := cols["city"]
		state, hasState := cols["state"]
		zip, hasZip := cols["zip"]
		extract = func(row []string) string {
			parts := []string{field(row, street)}
			if hasCity {
				parts = append(parts, field(row, city))
			}
			region := ""
			if hasState {
				region = field(row, state)
			}
			if hasZip {
				region = strings.TrimSpace(region + " " + field(row, zip))
			}
			parts = append(parts, region)
			return joinNonEmpty(parts, ", ")
		}
	} else {
		body = records
		extract = func(row []string) string { return field(row, 0) }
	}

	var out []string
	for _, row := range body {
		if a := search.NormalizeAddress(extract(row)); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAddresses
	}
	return out, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
