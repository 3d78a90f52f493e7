package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"skiptracer/proxypool/model"
)

// NewProxiesCmd creates the proxies command group.
func NewProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Manage the proxy pool",
	}
	cmd.AddCommand(newProxiesListCmd())
	cmd.AddCommand(newProxiesImportCmd())
	cmd.AddCommand(newProxiesValidateCmd())
	return cmd
}

func newProxiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List proxies with their health counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer s.Stop()

			out := cmd.OutOrStdout()
			proxies := s.Proxies()
			fmt.Fprintf(out, "%-44s %-12s %-8s %6s %6s %8s %s\n", "ID", "KIND", "VERIFIED", "OK", "FAIL", "LATENCY", "SOURCE")
			for _, p := range proxies {
				verified := p.VerifiedProtocol
				if verified == "" {
					verified = "-"
				}
				fmt.Fprintf(out, "%-44s %-12s %-8s %6d %6d %8s %s\n",
					p.ID, p.Kind, verified, p.SuccessCount, p.FailureCount, p.Latency.Round(time.Millisecond), p.Source)
			}
			fmt.Fprintln(out, s.RotatorStats())
			return nil
		},
	}
}

func newProxiesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import proxies from a file, one per line",
		Long: `Import accepts host:port, host:port:user:pass, user:pass@host:port and
scheme://[user:pass@]host:port lines. Blank lines and # comments are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindName, _ := cmd.Flags().GetString("kind")
			kind, err := model.ParseKind(kindName)
			if err != nil {
				return err
			}
			lines, err := readLines(args[0])
			if err != nil {
				return err
			}

			s, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer s.Stop()

			added := s.ImportProxies(lines, kind)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d %s proxies.\n", added, kind)
			return nil
		},
	}
	cmd.Flags().StringP("kind", "k", string(model.KindResidential), "Proxy kind: residential or mobile")
	return cmd
}

func newProxiesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [ID...]",
		Short: "Check connectivity of all proxies, or only the given IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer s.Stop()

			total := len(args)
			if total == 0 {
				total = len(s.Proxies())
			}
			healthy, err := s.ValidateProxies(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d proxies healthy.\n", healthy, total)
			return nil
		},
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
