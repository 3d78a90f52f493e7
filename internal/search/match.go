// Package search builds people-search URLs for a property address and parses
// the result pages into matches.
package search

// Match 是一条查找结果。JSON 字段名与命令行输出保持一致。
type Match struct {
	Name      string   `json:"name"`
	Phones    []string `json:"phones"`
	CityState string   `json:"city_state"`
	Source    string   `json:"source"`
}
