package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skiptracer/internal/app"
	"skiptracer/internal/shared/config"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/shared/types"
)

const defaultConfigPath = "configs/skiptracer.ini"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skiptracer",
		Short: "Look up owner name and phone numbers for a property address",
		Long: `skiptracer queries people-search sites (TruePeopleSearch, FastPeopleSearch)
for the residents of an address, rotating through residential and mobile
proxies and slowing down when the sites start pushing back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the ini config file")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging and save the last page when nothing matched")

	cmd.AddCommand(NewLookupCmd())
	cmd.AddCommand(NewBatchCmd())
	cmd.AddCommand(NewProxiesCmd())
	cmd.AddCommand(NewServeCmd())
	return cmd
}

// Execute runs the root command until it finishes or an interrupt arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadConfig 读取 --config 指定的 ini 文件并初始化日志。
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIni(path)
	if err != nil {
		return nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
		cfg.LogConf.Level = "debug"
	}
	if err := logger.InitWithWriter(cfg.LogConf, cmd.ErrOrStderr()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// newApp 加载配置并构建应用, 调用方负责 Stop。
func newApp(cmd *cobra.Command, mutate func(*types.Config)) (*app.AppServer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	return app.New(cmd.Context(), cfg)
}
