package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/screa/zerobits-miner/internal/config"
	"github.com/screa/zerobits-miner/internal/digest"
	"github.com/screa/zerobits-miner/internal/display"
	"github.com/screa/zerobits-miner/internal/logger"
	minerpkg "github.com/screa/zerobits-miner/pkg/miner"
	"github.com/screa/zerobits-miner/pkg/types"
)

var (
	flagCfg     = config.NewConfig()
	logFile     string
	configFile  string
	watch       bool
	listModules bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "zerobits-miner",
		Short: "Rate-limited leading zero digest miner",
		Long: `A command line utility that races several execution units to find an input
whose digest has the most leading zero bits. Every improvement is shared with
all units and each unit is throttled to a maximum hash rate.`,
		Run: runMiner,
	}

	rootCmd.Flags().IntVarP(&flagCfg.Workers, "workers", "w", runtime.NumCPU(), "Number of execution units")
	rootCmd.Flags().IntVarP(&flagCfg.MaxHashRate, "max-rate", "r", config.DefaultMaxHashRate, "Maximum hashes per second per unit")
	rootCmd.Flags().StringVarP(&flagCfg.Module, "module", "m", config.DefaultModule, "Compute module path or name")
	rootCmd.Flags().IntVarP(&flagCfg.Duration, "duration", "d", 0, "Run duration in seconds (0: until interrupted)")
	rootCmd.Flags().IntVarP(&flagCfg.LogInterval, "log-interval", "i", config.DefaultLogInterval, "Progress interval in seconds")
	rootCmd.Flags().BoolVarP(&flagCfg.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().StringVarP(&logFile, "log-file", "l", "", "Log file (default: zerobits-miner.log in the temp directory)")
	rootCmd.Flags().StringVarP(&configFile, "config-file", "c", "", "Lua configuration file")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "Restart the run when the configuration file changes")
	rootCmd.Flags().BoolVar(&listModules, "list-modules", false, "List the compute modules and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMiner(cmd *cobra.Command, args []string) {
	if listModules {
		for _, name := range digest.Names() {
			fmt.Println(name)
		}
		return
	}
	if watch && configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --watch requires --config-file")
		os.Exit(1)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Finalise()

	log := logger.New("main")
	log.Info("starting…")
	log.Infof("configuration: %s", cfg.Description())

	board := display.NewBoard(os.Stdout, 0)
	miner := minerpkg.NewMiner(
		logger.New("miner"),
		minerpkg.WithDisplay(board),
		minerpkg.WithProgressInterval(cfg.ProgressInterval()),
	)
	defer miner.Close()

	fmt.Printf("Mining with %s...\n", cfg.Description())
	if err := miner.StartRun(cfg.Workers, cfg.Module, cfg.MaxHashRate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if d := cfg.RunDuration(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	var change, remove <-chan struct{}
	if watch {
		watcher, err := config.NewWatcher(configFile, logger.New(config.WatcherLoggerTag))
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			log.Errorf("file watcher setup failed: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Close()
		change, remove = watcher.Change(), watcher.Remove()
	}

	module := cfg.Module
	status := time.NewTicker(cfg.ProgressInterval())
	defer status.Stop()

wait:
	for {
		select {
		case <-status.C:
			fmt.Println(board.Status())
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal (Ctrl+C). Stopping units...")
			break wait
		case <-deadline:
			fmt.Println("Duration elapsed. Stopping units...")
			break wait
		case <-change:
			next, err := loadConfig(cmd)
			if err != nil {
				log.Errorf("configuration reload failed, keeping current run: %v", err)
				continue
			}
			log.Infof("configuration changed: %s", next.Description())
			fmt.Printf("Configuration changed, restarting with %s...\n", next.Description())
			board.Reset()
			if err := miner.StartRun(next.Workers, next.Module, next.MaxHashRate); err != nil {
				log.Errorf("restart failed: %v", err)
				continue
			}
			module = next.Module
		case <-remove:
			log.Warnf("configuration file %s removed, continuing with the current run", configFile)
		}
	}

	if err := miner.StopRun(); err != nil {
		log.Errorf("stop: %v", err)
	}

	fmt.Print(board.Summary())
	if best := miner.Best(); !best.IsZero() {
		log.Infof("best: %d zeros %s (input: %q)", best.LeadingZeros, best.DigestHex(), best.Input)
		if err := verify(module, best); err != nil {
			log.Errorf("verification: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			fmt.Println("Verified: digest recomputed from input")
		}
	}
	log.Info("shutting down…")
}

// verify recomputes the best result's digest from its input with a fresh
// engine for the module
func verify(module string, best types.Target) error {
	engine, err := digest.Loader{}.Load(context.Background(), module)
	if err != nil {
		return err
	}
	if d := digest.SumString(engine, best.Input); d != best.Digest {
		return fmt.Errorf("digest mismatch for input %q: got %s, reported %s", best.Input, d, best.DigestHex())
	}
	return nil
}

// loadConfig reads the configuration file, if any, then applies the flags
// the user set on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("configuration file %q: %w", configFile, err)
		}
		cfg = c
	}

	flags := cmd.Flags()
	if flags.Changed("workers") || configFile == "" {
		cfg.Workers = flagCfg.Workers
	}
	if flags.Changed("max-rate") || configFile == "" {
		cfg.MaxHashRate = flagCfg.MaxHashRate
	}
	if flags.Changed("module") || configFile == "" {
		cfg.Module = flagCfg.Module
	}
	if flags.Changed("duration") || configFile == "" {
		cfg.Duration = flagCfg.Duration
	}
	if flags.Changed("log-interval") || configFile == "" {
		cfg.LogInterval = flagCfg.LogInterval
	}
	if flags.Changed("verbose") {
		cfg.Verbose = flagCfg.Verbose
	}
	if logFile != "" {
		path, err := filepath.Abs(logFile)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Directory, cfg.Logging.File = filepath.Split(path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	if cfg.Verbose {
		cfg.Logging.Console = true
		cfg.Logging.Levels = map[string]string{
			logger.DefaultTag: "debug",
		}
	}
	if err := os.MkdirAll(cfg.Logging.Directory, 0700); err != nil {
		return err
	}
	return logger.Initialise(cfg.Logging)
}
