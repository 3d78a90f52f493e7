package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"skiptracer/internal/report"
)

const noMatchesMessage = "No matches found for this address."

// NewLookupCmd creates the lookup command.
func NewLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup ADDRESS...",
		Short: "Skip trace a single address",
		Long: `Lookup joins its arguments into one address, tries each configured site in
order and prints every match as a JSON line.

Example:
  skiptracer lookup 123 Main St, Springfield, IL 62701`,
		Args: cobra.MinimumNArgs(1),
		RunE: runLookupCmd,
	}
}

func runLookupCmd(cmd *cobra.Command, args []string) error {
	s, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer s.Stop()

	matches, err := s.Lookup(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(out, noMatchesMessage)
		return nil
	}
	return report.NewJSONLinesWriter(out).WriteMatches(matches)
}
