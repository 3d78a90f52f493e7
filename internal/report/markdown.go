package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"skiptracer/internal/batch"
	"skiptracer/internal/store"
)

// MarkdownWriter 输出一份汇总报告: 统计表、结果表和失败列表。
type MarkdownWriter struct {
	output io.Writer
	now    func() time.Time
}

func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output, now: time.Now}
}

func (w *MarkdownWriter) Write(results []batch.Result) error {
	md := markdown.NewMarkdown(w.output)

	md.H1("Skip Trace Report")
	md.PlainText("")
	w.writeSummary(md, results)
	w.writeMatches(md, results)
	w.writeFailures(md, results)

	return md.Build()
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, results []batch.Result) {
	var matched, empty, failed, skipped, people int
	for _, r := range results {
		switch status(r) {
		case store.StatusMatched:
			matched++
		case store.StatusError:
			failed++
		default:
			empty++
		}
		if r.Skipped {
			skipped++
		}
		people += len(r.Matches)
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", w.now().Format("2006-01-02 15:04:05 MST")},
			{"Addresses", strconv.Itoa(len(results))},
			{"Matched", strconv.Itoa(matched)},
			{"No Matches", strconv.Itoa(empty)},
			{"Failed", strconv.Itoa(failed)},
			{"From Previous Run", strconv.Itoa(skipped)},
			{"People Found", strconv.Itoa(people)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeMatches(md *markdown.Markdown, results []batch.Result) {
	md.H2("Matches")
	md.PlainText("")

	var rows [][]string
	for _, r := range results {
		for _, m := range r.Matches {
			rows = append(rows, []string{r.Address, m.Name, strings.Join(m.Phones, "<br>"), m.CityState, m.Source})
		}
	}
	if len(rows) == 0 {
		md.PlainText("No matches found.")
		md.PlainText("")
		return
	}
	md.Table(markdown.TableSet{
		Header: []string{"Address", "Name", "Phones", "City/State", "Source"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, results []batch.Result) {
	var items []string
	for _, r := range results {
		if r.Err != nil {
			items = append(items, "`"+r.Address+"`: "+strings.ReplaceAll(r.Err.Error(), "\n", "; "))
		}
	}
	if len(items) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")
	md.BulletList(items...)
	md.PlainText("")
}
