package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/backtest"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/stats"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

func newRunCmd(c *common) *cobra.Command {
	var (
		name      string
		tradesOut string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one strategy and print its metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			if name == "" {
				name = cfg.Strategy.Names[0]
			}
			rules, err := strategy.Build(name, cfg.Strategy.Params)
			if err != nil {
				return err
			}
			candles, snaps, err := c.history(cfg, log)
			if err != nil {
				return err
			}
			sim, err := backtest.New(simConfig(cfg, rules), backtest.WithLogger(log))
			if err != nil {
				return err
			}
			res, err := sim.Run(candles, snaps)
			if err != nil {
				return err
			}
			if tradesOut != "" {
				if err := writeTrades(tradesOut, res); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %d candles, %d signals\n", cfg.Backtest.Symbol, rules.Name, len(candles), len(res.Signals))
			printMetrics(out, res.Metrics)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "strategy", "s", "", "strategy name (default: first configured)")
	cmd.Flags().StringVar(&tradesOut, "trades", "", "write the trade log as JSON lines")
	return cmd
}

func writeTrades(path string, res backtest.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, t := range res.Trades {
		if err := enc.Encode(t); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func printMetrics(w io.Writer, m stats.Metrics) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value string
	}{
		{"trades", fmt.Sprintf("%d (%d W / %d L)", m.TotalTrades, m.Wins, m.Losses)},
		{"win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"net pnl", fmt.Sprintf("%.2f", m.NetPnL)},
		{"profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"expectancy", fmt.Sprintf("%.2f", m.Expectancy)},
		{"avg win / loss", fmt.Sprintf("%.2f / %.2f", m.AvgWin, m.AvgLoss)},
		{"largest win / loss", fmt.Sprintf("%.2f / %.2f", m.LargestWin, m.LargestLoss)},
		{"final balance", fmt.Sprintf("%.2f", m.FinalBalance)},
		{"max drawdown", fmt.Sprintf("%.2f (%.2f%%)", m.MaxDrawdown, m.MaxDrawdownPct)},
		{"max recovery", fmt.Sprintf("%dms", m.MaxRecoveryMs)},
		{"streaks W / L", fmt.Sprintf("%d / %d (avg %.1f / %.1f)", m.MaxWinStreak, m.MaxLossStreak, m.AvgWinStreak, m.AvgLossStreak)},
		{"sharpe / sortino", fmt.Sprintf("%.2f / %.2f", m.Sharpe, m.Sortino)},
		{"annualized return", fmt.Sprintf("%.2f%%", m.AnnualizedReturn)},
		{"calmar", fmt.Sprintf("%.2f", m.Calmar)},
		{"avg bars held", fmt.Sprintf("%.1f", m.AvgBarsHeld)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.label, r.value)
	}
	_ = tw.Flush()
}
