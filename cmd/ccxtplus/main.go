// ccxt-plus CLI
// This application fetches complete OHLCV and funding-rate histories from
// cryptocurrency exchanges and stores them as chunked CSV files.
//
// Usage:
//
//	ccxtplus fetch --symbols BTC/USDT,ETH/USDT --timeframes 15m,1h --market future
//	ccxtplus funding --symbols BTC/USDT
//	ccxtplus check --market spot
//
// For detailed help on any command, use: ccxtplus <command> --help
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Arkalin/ccxt-plus/internal/config"
	"github.com/Arkalin/ccxt-plus/internal/exchange"
	"github.com/Arkalin/ccxt-plus/internal/logger"
	"github.com/Arkalin/ccxt-plus/internal/models"
	"github.com/Arkalin/ccxt-plus/internal/proxy"
	"github.com/Arkalin/ccxt-plus/internal/wrapper"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "ccxtplus"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI holds the initialized application components.
type CLI struct {
	config    *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	proxies   *proxy.Pool
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli := &CLI{}
	if err := cli.initialize(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.logCloser.Close()

	var err error
	switch command {
	case "fetch":
		err = cli.handleFetch(ctx, args)
	case "funding":
		err = cli.handleFunding(ctx, args)
	case "check":
		err = cli.handleCheck(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		if ctx.Err() != nil {
			cli.logger.Warn("interrupted", "command", command)
			os.Exit(ExitInterrupt)
		}
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			fmt.Fprintf(os.Stderr, "Run '%s %s --help' for usage.\n", AppName, command)
			os.Exit(ExitUsageError)
		}
		cli.logger.Error("command failed", "command", command, "error", err)
		os.Exit(ExitDataError)
	}
}

// usageError marks a bad invocation so main exits with ExitUsageError instead
// of the data-error code used for runtime failures.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// initialize loads configuration, logging and the proxy pool. The --config
// flag is scanned out of the args here so every command shares it.
func (cli *CLI) initialize(args []string) error {
	configPath := ""
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--config" || args[i] == "-c" {
			configPath = args[i+1]
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logger = log
	cli.logCloser = closer

	pool, err := proxy.Load(cfg.ProxyFile, log)
	if err != nil {
		return fmt.Errorf("failed to load proxy list: %w", err)
	}
	cli.proxies = pool

	return nil
}

// newAdapter builds a Binance adapter bound to the given market type.
func (cli *CLI) newAdapter(marketType string) (exchange.Adapter, error) {
	return exchange.NewBinanceAdapter(exchange.BinanceConfig{
		MarketType:     marketType,
		RateLimit:      cli.config.Exchange.RateLimit,
		PageLimit:      cli.config.Exchange.PageLimit,
		TimeoutSeconds: cli.config.Exchange.TimeoutSeconds,
		Proxies:        cli.proxies,
		Logger:         cli.logger,
	})
}

// handleFetch handles the 'fetch' command for complete OHLCV history.
func (cli *CLI) handleFetch(ctx context.Context, args []string) error {
	flags, err := parseFetchFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("fetch")
		return nil
	}

	symbols, err := resolveSymbols(flags.Symbols, flags.SymbolsFile)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return usageErrorf("--symbols or --symbols-file is required")
	}
	if len(flags.Timeframes) == 0 {
		return usageErrorf("--timeframes is required")
	}

	opts, err := rangeOptions(flags.Start, flags.End)
	if err != nil {
		return err
	}
	if flags.Workers > 0 {
		opts = append(opts, wrapper.WithWorkers(flags.Workers))
	}

	adapter, err := cli.newAdapter(flags.Market)
	if err != nil {
		return err
	}
	w := wrapper.New(adapter, cli.config, cli.logger)

	cli.logger.Info("starting fetch run",
		"symbols", len(symbols),
		"timeframes", flags.Timeframes,
		"market", flags.Market)

	// One task per symbol+timeframe, bounded so the per-task worker pools do
	// not multiply into too many concurrent requests.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flags.Parallel)

	total := len(symbols) * len(flags.Timeframes)
	var done atomic.Int64
	for _, symbol := range symbols {
		for _, timeframe := range flags.Timeframes {
			symbol, timeframe := symbol, timeframe
			g.Go(func() error {
				result, err := w.FetchAllOHLCV(gctx, symbol, timeframe, opts...)
				if err != nil {
					return fmt.Errorf("fetch %s %s: %w", symbol, timeframe, err)
				}
				fmt.Printf("[%d/%d] %s: %d rows -> %s\n", done.Add(1), total, result.Labels, result.Rows, result.OutputDir)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snap := w.Metrics().GetSnapshot()
	fmt.Printf("Completed %d tasks: %d pages, %d rows, %d retries, success rate %.2f%%\n",
		total, snap.PagesFetched, snap.RowsCollected, snap.Retries, snap.SuccessRate*100)
	return nil
}

// handleFunding handles the 'funding' command for funding-rate history.
func (cli *CLI) handleFunding(ctx context.Context, args []string) error {
	flags, err := parseFundingFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("funding")
		return nil
	}

	symbols, err := resolveSymbols(flags.Symbols, flags.SymbolsFile)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return usageErrorf("--symbols or --symbols-file is required")
	}

	opts, err := rangeOptions(flags.Start, flags.End)
	if err != nil {
		return err
	}

	adapter, err := cli.newAdapter(exchange.MarketFuture)
	if err != nil {
		return err
	}
	w := wrapper.New(adapter, cli.config, cli.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flags.Parallel)

	var done atomic.Int64
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			result, err := w.FetchAllFundingRateHistory(gctx, symbol, opts...)
			if err != nil {
				return fmt.Errorf("funding %s: %w", symbol, err)
			}
			fmt.Printf("[%d/%d] %s: %d rows -> %s\n", done.Add(1), len(symbols), result.Labels, result.Rows, result.OutputDir)
			return nil
		})
	}
	return g.Wait()
}

// handleCheck handles the 'check' command, a connectivity probe.
func (cli *CLI) handleCheck(ctx context.Context, args []string) error {
	flags, err := parseCheckFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("check")
		return nil
	}

	adapter, err := cli.newAdapter(flags.Market)
	if err != nil {
		return err
	}

	if err := adapter.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Printf("%s %s market is reachable", adapter.ID(), adapter.MarketType())
	if cli.proxies.Enabled() {
		fmt.Printf(" (%d proxies loaded, %d rotations)", cli.proxies.Size(), cli.proxies.Rotations())
	}
	fmt.Println()
	return nil
}

// rangeOptions converts --start/--end flags into fetch options.
func rangeOptions(start, end string) ([]wrapper.Option, error) {
	var opts []wrapper.Option
	if start != "" {
		ms, err := parseRangeBound(start)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wrapper.WithSince(ms))
	}
	if end != "" {
		ms, err := parseRangeBound(end)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wrapper.WithUntil(ms))
	}
	return opts, nil
}

// parseRangeBound accepts a date or a full datetime, both interpreted as UTC.
func parseRangeBound(value string) (int64, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UnixMilli(), nil
	}
	ms, err := models.ParseDatetime(value)
	if err != nil {
		return 0, usageErrorf("invalid date %q, use YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\"", value)
	}
	return ms, nil
}

// resolveSymbols merges the --symbols list with the optional --symbols-file,
// which holds one symbol per line with '#' comments.
func resolveSymbols(inline []string, file string) ([]string, error) {
	symbols := append([]string{}, inline...)

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open symbols file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			symbols = append(symbols, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read symbols file: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(symbols))
	out := symbols[:0]
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// Flag structures for parsing command line arguments

// FetchFlags represents flags for the fetch command
type FetchFlags struct {
	Symbols     []string
	SymbolsFile string
	Timeframes  []string
	Market      string
	Start       string
	End         string
	Workers     int
	Parallel    int
	Help        bool
}

// FundingFlags represents flags for the funding command
type FundingFlags struct {
	Symbols     []string
	SymbolsFile string
	Start       string
	End         string
	Parallel    int
	Help        bool
}

// CheckFlags represents flags for the check command
type CheckFlags struct {
	Market string
	Help   bool
}

// parseFetchFlags parses command line arguments for the fetch command
func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{
		Market:   exchange.MarketSpot,
		Parallel: 2,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, usageErrorf("--symbols requires a value")
			}
			flags.Symbols = strings.Split(args[i+1], ",")
			i++
		case "--symbols-file":
			if i+1 >= len(args) {
				return nil, usageErrorf("--symbols-file requires a value")
			}
			flags.SymbolsFile = args[i+1]
			i++
		case "--timeframes", "-t":
			if i+1 >= len(args) {
				return nil, usageErrorf("--timeframes requires a value")
			}
			flags.Timeframes = strings.Split(args[i+1], ",")
			i++
		case "--market", "-m":
			if i+1 >= len(args) {
				return nil, usageErrorf("--market requires a value")
			}
			market := args[i+1]
			if market != exchange.MarketSpot && market != exchange.MarketFuture {
				return nil, usageErrorf("invalid market, must be: %s or %s", exchange.MarketSpot, exchange.MarketFuture)
			}
			flags.Market = market
			i++
		case "--start":
			if i+1 >= len(args) {
				return nil, usageErrorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end":
			if i+1 >= len(args) {
				return nil, usageErrorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--workers", "-w":
			if i+1 >= len(args) {
				return nil, usageErrorf("--workers requires a value")
			}
			workers, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, usageErrorf("invalid workers value: %s", args[i+1])
			}
			flags.Workers = workers
			i++
		case "--parallel":
			if i+1 >= len(args) {
				return nil, usageErrorf("--parallel requires a value")
			}
			parallel, err := strconv.Atoi(args[i+1])
			if err != nil || parallel < 1 {
				return nil, usageErrorf("invalid parallel value: %s", args[i+1])
			}
			flags.Parallel = parallel
			i++
		case "--config", "-c":
			i++ // consumed during initialization
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseFundingFlags parses command line arguments for the funding command
func parseFundingFlags(args []string) (*FundingFlags, error) {
	flags := &FundingFlags{
		Parallel: 2,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, usageErrorf("--symbols requires a value")
			}
			flags.Symbols = strings.Split(args[i+1], ",")
			i++
		case "--symbols-file":
			if i+1 >= len(args) {
				return nil, usageErrorf("--symbols-file requires a value")
			}
			flags.SymbolsFile = args[i+1]
			i++
		case "--start":
			if i+1 >= len(args) {
				return nil, usageErrorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end":
			if i+1 >= len(args) {
				return nil, usageErrorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--parallel":
			if i+1 >= len(args) {
				return nil, usageErrorf("--parallel requires a value")
			}
			parallel, err := strconv.Atoi(args[i+1])
			if err != nil || parallel < 1 {
				return nil, usageErrorf("invalid parallel value: %s", args[i+1])
			}
			flags.Parallel = parallel
			i++
		case "--config", "-c":
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseCheckFlags parses command line arguments for the check command
func parseCheckFlags(args []string) (*CheckFlags, error) {
	flags := &CheckFlags{
		Market: exchange.MarketSpot,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--market", "-m":
			if i+1 >= len(args) {
				return nil, usageErrorf("--market requires a value")
			}
			market := args[i+1]
			if market != exchange.MarketSpot && market != exchange.MarketFuture {
				return nil, usageErrorf("invalid market, must be: %s or %s", exchange.MarketSpot, exchange.MarketFuture)
			}
			flags.Market = market
			i++
		case "--config", "-c":
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, usageErrorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Exchange history fetcher v%s

USAGE:
    %s <command> [options]

COMMANDS:
    fetch       Fetch complete OHLCV history for symbols and timeframes
    funding     Fetch complete funding-rate history for symbols
    check       Verify exchange connectivity

GLOBAL OPTIONS:
    --config, -c   Path to YAML configuration file
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Fetch BTC/USDT spot candles at two timeframes
    %s fetch --symbols BTC/USDT --timeframes 15m,1h

    # Fetch futures candles for symbols listed in a file
    %s fetch --symbols-file symbols.txt --timeframes 1h --market future

    # Fetch the full funding-rate history of a perpetual
    %s funding --symbols BTC/USDT

CONFIGURATION:
    Configuration can be provided via:
    - Config file: YAML, passed with --config
    - Environment variables: CCXTPLUS_* (e.g., CCXTPLUS_DATA_PATH)

    Output lands under <data_path>/<exchange>/<market>/<symbol>/<timeframe>/
    as numbered CSV chunk files.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "fetch":
		fmt.Printf(`%s fetch - Fetch complete OHLCV history

USAGE:
    %s fetch [options]

OPTIONS:
    --symbols, -s <list>      Comma-separated trading symbols
                              Examples: BTC/USDT,ETH/USDT
    --symbols-file <path>     File with one symbol per line ('#' comments)
    --timeframes, -t <list>   Comma-separated timeframes (required)
                              Supported units: s, m, h, d, w, M
    --market, -m <market>     Market type: spot or future (default: spot)
    --start <date>            Range start (YYYY-MM-DD or "YYYY-MM-DD HH:MM:SS",
                              default: exchange epoch)
    --end <date>              Range end (same formats, default: now)
    --workers, -w <n>         Fetch workers per task (default: from config)
    --parallel <n>            Concurrent tasks (default: 2)
    --config, -c <path>       Configuration file
    --help, -h                Show this help message

EXAMPLES:
    # Full 15m history of BTC/USDT spot
    %s fetch --symbols BTC/USDT --timeframes 15m

    # Futures candles for several symbols and timeframes
    %s fetch --symbols BTC/USDT,ETH/USDT --timeframes 15m,1h --market future

NOTES:
    - Without --start the fetch begins at the symbol's listing date
    - Missing data points are reported in missingtimes.txt and repaired
      from the nearest neighbouring row
    - The last (possibly unfinished) row is always dropped
`, AppName, AppName, AppName, AppName)

	case "funding":
		fmt.Printf(`%s funding - Fetch complete funding-rate history

USAGE:
    %s funding [options]

OPTIONS:
    --symbols, -s <list>      Comma-separated perpetual symbols
    --symbols-file <path>     File with one symbol per line ('#' comments)
    --start <date>            Range start (YYYY-MM-DD or "YYYY-MM-DD HH:MM:SS")
    --end <date>              Range end (same formats, default: now)
    --parallel <n>            Concurrent tasks (default: 2)
    --config, -c <path>       Configuration file
    --help, -h                Show this help message

EXAMPLES:
    # Full funding history of BTC/USDT perpetual
    %s funding --symbols BTC/USDT

NOTES:
    - Funding rates only exist on the futures market
    - Output lands under <data_path>/<exchange>/funding_rate_history/<symbol>/
`, AppName, AppName, AppName)

	case "check":
		fmt.Printf(`%s check - Verify exchange connectivity

USAGE:
    %s check [options]

OPTIONS:
    --market, -m <market>     Market type: spot or future (default: spot)
    --config, -c <path>       Configuration file
    --help, -h                Show this help message

NOTES:
    - Uses the exchange ping endpoint, which consumes no data quota
    - Requests go through the configured proxy pool when one is loaded
`, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
