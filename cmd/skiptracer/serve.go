package main

import (
	"github.com/spf13/cobra"

	"skiptracer/internal/shared/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket feed",
		Long: `Serve exposes lookups, proxy management and runtime settings over HTTP
(basic auth when [web] password is set) and pushes trace results and rotator
state to /ws clients until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, _ := cmd.Flags().GetInt("port")
			s, err := newApp(cmd, func(cfg *types.Config) {
				if port > 0 {
					cfg.WebConf.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer s.Stop()
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().IntP("port", "p", 0, "Listen port (default from config)")
	return cmd
}
