package search

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ParseResults 解析结果页。使用第一个有命中的卡片选择器;
// 没有姓名链接的卡片被跳过。
func ParseResults(p *SiteProfile, page string) ([]Match, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse %s results: %w", p.Name, err)
	}

	var cards *goquery.Selection
	for _, sel := range p.CardSelectors {
		if cards = doc.Find(sel); cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil, nil
	}

	var matches []Match
	cards.Each(func(_ int, card *goquery.Selection) {
		nameEl := card.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			return p.nameRE.MatchString(href)
		}).First()
		if nameEl.Length() == 0 {
			return
		}
		name := strippedText(nameEl.Nodes[0])

		location := ""
		addrEl := card.Find("div[class]").FilterFunction(func(_ int, d *goquery.Selection) bool {
			class, _ := d.Attr("class")
			return p.addressRE.MatchString(class)
		}).First()
		if addrEl.Length() > 0 {
			location = strippedText(addrEl.Nodes[0])
		}

		phones := ParsePhones(joinedText(card.Nodes[0], " "))
		if name == "" && len(phones) == 0 {
			return
		}
		matches = append(matches, Match{
			Name:      name,
			Phones:    phones,
			CityState: location,
			Source:    p.Name,
		})
	})
	return matches, nil
}

// textNodes 按文档顺序遍历 n 下的文本节点, 跳过 script 和 style。
func textNodes(n *html.Node, visit func(string)) {
	switch n.Type {
	case html.TextNode:
		visit(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textNodes(c, visit)
	}
}

// joinedText 用 sep 连接所有文本节点。
func joinedText(n *html.Node, sep string) string {
	var parts []string
	textNodes(n, func(s string) { parts = append(parts, s) })
	return strings.Join(parts, sep)
}

// strippedText 去掉每个文本节点首尾空白后直接拼接, 丢弃空节点。
func strippedText(n *html.Node) string {
	var b strings.Builder
	textNodes(n, func(s string) {
		b.WriteString(strings.TrimSpace(s))
	})
	return b.String()
}
