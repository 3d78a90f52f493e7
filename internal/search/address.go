package search

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeAddress 去掉首尾空白并合并连续空白。
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(address), " ")
}

// AddressKey 返回用于缓存和去重的地址键: 规范化后做大小写折叠。
// Caser 有状态, 不能在 goroutine 间共享, 因此每次新建。
func AddressKey(address string) string {
	return cases.Fold().String(NormalizeAddress(address))
}

func lowerEnglish(s string) string {
	return cases.Lower(language.AmericanEnglish).String(s)
}
