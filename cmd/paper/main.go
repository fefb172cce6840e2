package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/app"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/config"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/metrics"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	cmd := &cobra.Command{
		Use:           "paper",
		Short:         "Run the multiplier bot against a live or synthetic feed with a paper broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := config.ApplyEnv(cfg, envFile); err != nil {
				return err
			}
			log := util.NewLogger(cfg.App.LogLevel)

			bot, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			srv := metrics.Serve(cfg.App.MetricsAddr)
			log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return bot.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "configs/paper.yaml", "YAML config; empty runs on defaults")
	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file with MULTIBOT_* overrides")
	return cmd
}
