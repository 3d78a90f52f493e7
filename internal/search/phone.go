package search

import (
	"regexp"
	"strings"
)

var phoneRE = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)

// NormalizePhone 将 10 位号码格式化为 "+1 (AAA) BBB-CCCC", 其他输入原样返回。
func NormalizePhone(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) != 10 {
		return number
	}
	return "+1 (" + d[:3] + ") " + d[3:6] + "-" + d[6:]
}

// ParsePhones 提取文本中的电话号码, 规范化并按首次出现的顺序去重。
func ParsePhones(text string) []string {
	found := phoneRE.FindAllString(text, -1)
	phones := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, m := range found {
		p := NormalizePhone(m)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		phones = append(phones, p)
	}
	return phones
}
