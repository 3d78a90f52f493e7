package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"skiptracer/internal/batch"
	"skiptracer/internal/report"
	"skiptracer/internal/shared/logger"
)

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Skip trace every address in a CSV file",
		Long: `Batch reads addresses from a CSV file (an "address" column, or
street/city/state/zip columns, or the first column when there is no header),
traces them concurrently and writes the results in input order.

Examples:
  skiptracer batch --input leads.csv --output results.csv
  skiptracer batch -i leads.csv -o results.jsonl --format jsonl --report summary.md
  skiptracer batch -i leads.csv -o results.csv --resume`,
		Args: cobra.NoArgs,
		RunE: runBatchCmd,
	}

	cmd.Flags().StringP("input", "i", "", "CSV file with addresses")
	cmd.Flags().StringP("output", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringP("format", "f", "csv", "Output format: csv or jsonl")
	cmd.Flags().String("report", "", "Also write a Markdown summary to this file")
	cmd.Flags().Bool("resume", false, "Skip addresses that already have a stored result")
	cmd.Flags().IntP("concurrency", "n", 0, "Concurrent lookups (default from config)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	reportPath, _ := cmd.Flags().GetString("report")
	resume, _ := cmd.Flags().GetBool("resume")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	if format != "csv" && format != "jsonl" {
		return fmt.Errorf("%w: %q (want csv or jsonl)", report.ErrUnknownFormat, format)
	}

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	addresses, err := batch.ReadAddresses(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	s, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer s.Stop()
	s.Start()

	if concurrency <= 0 {
		concurrency = s.Config().Concurrency
	}
	opts := []batch.Option{
		batch.WithConcurrency(concurrency),
		batch.WithProgress(func(done, total int, r batch.Result) {
			ev := logger.Info().Int("done", done).Int("total", total).Str("address", r.Address).Int("matches", len(r.Matches))
			if r.Err != nil {
				ev = ev.Err(r.Err)
			}
			ev.Msg("Address processed.")
		}),
	}
	if resume {
		if s.Store() == nil {
			return errors.New("--resume needs a result store (set [store] path)")
		}
		opts = append(opts, batch.WithResume(s.Store()))
	}

	// 中断时不写出部分结果, 已完成的地址在结果库中, 可用 --resume 继续
	results, err := batch.NewProcessor(s.Tracer(), opts...).Run(cmd.Context(), addresses)
	if err != nil {
		return err
	}

	if err := writeResults(cmd, output, format, results); err != nil {
		return err
	}
	if reportPath != "" {
		if err := writeResults(cmd, reportPath, "md", results); err != nil {
			return err
		}
	}
	return nil
}

func writeResults(cmd *cobra.Command, path, format string, results []batch.Result) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "-" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	rw, err := report.New(format, w)
	if err != nil {
		return err
	}
	return rw.Write(results)
}
