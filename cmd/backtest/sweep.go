package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/backtest"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

func newSweepCmd(c *common) *cobra.Command {
	var (
		names   []string
		tps     []float64
		sls     []float64
		workers int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a TP/SL percentage grid per strategy in parallel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				names = cfg.Strategy.Names
			}
			if workers <= 0 {
				workers = cfg.Backtest.Workers
			}
			candles, snaps, err := c.history(cfg, log)
			if err != nil {
				return err
			}

			var jobs []backtest.Job
			for _, name := range names {
				rules, err := strategy.Build(name, cfg.Strategy.Params)
				if err != nil {
					return err
				}
				for _, tp := range tps {
					for _, sl := range sls {
						sc := simConfig(cfg, rules)
						sc.Brackets.TakeProfitPct = tp
						sc.Brackets.StopLossPct = sl
						sc.Brackets.TakeProfitATR = 0
						sc.Brackets.StopLossATR = 0
						jobs = append(jobs, backtest.Job{
							Name:   fmt.Sprintf("%s tp=%.2f sl=%.2f", rules.Name, tp, sl),
							Config: sc,
						})
					}
				}
			}
			log.Info().Int("jobs", len(jobs)).Int("workers", workers).Msg("sweep started")

			results, err := backtest.Sweep(cmd.Context(), candles, snaps, jobs, workers)
			if err != nil {
				return err
			}
			sort.SliceStable(results, func(i, j int) bool {
				return results[i].Result.Metrics.NetPnL > results[j].Result.Metrics.NetPnL
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "job\ttrades\twin%\tnet\tpf\tmax dd%\tsharpe")
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(tw, "%s\terror: %v\t\t\t\t\t\n", r.Job.Name, r.Err)
					continue
				}
				m := r.Result.Metrics
				fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%.2f\n",
					r.Job.Name, m.TotalTrades, m.WinRate, m.NetPnL, m.ProfitFactor, m.MaxDrawdownPct, m.Sharpe)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&names, "strategy", "s", nil, "strategies to sweep (default: configured)")
	cmd.Flags().Float64SliceVar(&tps, "tp", []float64{0.3, 0.5, 1.0}, "take-profit percentages")
	cmd.Flags().Float64SliceVar(&sls, "sl", []float64{0.2, 0.3, 0.5}, "stop-loss percentages")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel jobs (default: backtest.workers)")
	return cmd
}
