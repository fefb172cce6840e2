package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/config"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/strategy"
)

const defaultConfigPath = "configs/paper.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)
	path := locateConfig(os.Args[1:])

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Multibot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit stake and risk knobs")
		fmt.Println("3) Edit strategies")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch paper bot")
		fmt.Println("6) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editStrategy(reader, cfg)
		case "4":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved, invalid config:\n%v\n", err)
				continue
			}
			if err := config.Save(path, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved to", path)
			}
		case "5":
			launchPaper(reader, path)
		case "6":
			reloaded, err := loadConfig(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Feed: %s %s\n", cfg.Feed.Provider, strings.Join(cfg.Feed.Symbols, ", "))
	fmt.Printf("Timeframe: %ds | warm-up %d bars\n", cfg.Candles.TimeframeSecs, cfg.Strategy.Warmup)
	fmt.Println("Strategies:", strings.Join(cfg.Strategy.Names, ", "))
	fmt.Printf("Stake: $%.2f x%.0f | max per trade $%.2f\n", cfg.Trade.Stake, cfg.Trade.Multiplier, cfg.Risk.MaxStakePerTrade)
	b := cfg.Trade.Brackets
	fmt.Printf("TP/SL: %.2f%% / %.2f%% | ATR x%.2f / x%.2f\n", b.TakeProfitPct, b.StopLossPct, b.TakeProfitATR, b.StopLossATR)
	fmt.Printf("Max hold: %d bars | cooldown: %d bars | tick exits: %v\n", cfg.Trade.MaxHoldBars, cfg.Trade.CooldownBars, cfg.Trade.TickExits)
	fmt.Printf("Daily loss limit: %.2f%% of $%.2f\n", cfg.Risk.DailyLossLimitPct*100, cfg.Risk.Capital)
	for _, tier := range cfg.Risk.Tiers {
		fmt.Printf("  after %d losses: cooldown %s\n", tier.Losses, tier.Cooldown)
	}
	fmt.Printf("Guard: %d per asset, %d total\n", cfg.Guard.MaxPerAsset, cfg.Guard.MaxTotal)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Stake / Risk ---")
	cfg.Trade.Stake = promptFloat(reader, "Stake (USD)", cfg.Trade.Stake)
	cfg.Trade.Multiplier = promptFloat(reader, "Multiplier", cfg.Trade.Multiplier)
	cfg.Risk.MaxStakePerTrade = promptFloat(reader, "Max stake per trade (USD)", cfg.Risk.MaxStakePerTrade)
	cfg.Trade.Brackets.TakeProfitPct = promptFloat(reader, "Take profit (%)", cfg.Trade.Brackets.TakeProfitPct)
	cfg.Trade.Brackets.StopLossPct = promptFloat(reader, "Stop loss (%)", cfg.Trade.Brackets.StopLossPct)
	cfg.Trade.MaxHoldBars = int(promptFloat(reader, "Max hold (bars)", float64(cfg.Trade.MaxHoldBars)))
	cfg.Risk.Capital = promptFloat(reader, "Capital (USD)", cfg.Risk.Capital)
	cfg.Risk.DailyLossLimitPct = promptPercent(reader, "Daily loss limit (%)", cfg.Risk.DailyLossLimitPct)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategies ---")
	fmt.Printf("Available: %s\n", strings.Join(strategy.Names(), ", "))
	fmt.Printf("Current: %s\n", strings.Join(cfg.Strategy.Names, ", "))
	fmt.Print("Enter strategies comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		var names []string
		for _, p := range strings.Split(strings.TrimSpace(line), ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				names = append(names, trimmed)
			}
		}
		cfg.Strategy.Names = names
	}
	p := &cfg.Strategy.Params
	p.MinPullbackBars = int(promptFloat(reader, "Min pullback bars", float64(p.MinPullbackBars)))
	p.WindowTimeout = int(promptFloat(reader, "Entry window (bars)", float64(p.WindowTimeout)))
	p.ADXMin = promptFloat(reader, "Min ADX", p.ADXMin)
	p.RSIOversold = promptFloat(reader, "RSI oversold", p.RSIOversold)
	p.RSIOverbought = promptFloat(reader, "RSI overbought", p.RSIOverbought)
}

func launchPaper(reader *bufio.Reader, path string) {
	fmt.Println("Launching paper bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper", "--config", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

// loadConfig falls back to defaults when the file does not exist yet.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func locateConfig(args []string) string {
	path := defaultConfigPath
	if len(args) > 0 && args[0] != "" {
		path = args[0]
	}
	return filepath.Clean(path)
}
