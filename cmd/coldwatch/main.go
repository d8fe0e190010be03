package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"coldwatch/internal/alerts"
	"coldwatch/internal/config"
	"coldwatch/internal/document"
	"coldwatch/internal/logger"
	"coldwatch/internal/processor"
	"coldwatch/internal/scheduler"
	"coldwatch/internal/state"
)

const configEnv = "COLDWATCH_CONFIG"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "scan":
		err = scanCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("coldwatch %s: %v", cmd, err)
	}
}

// loadConfig reads path, falling back to $COLDWATCH_CONFIG and then to the
// built-in defaults
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (default $"+configEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return processor.New(cfg).Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file to validate (default $"+configEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config looks good: %d surface(s), store=%s, bus=%s\n",
		len(cfg.Surfaces), cfg.Store.Backend, cfg.Bus.Transport)
	return nil
}

// scanCommand runs one bypassed scan over a saved page and prints the
// report. Nothing is persisted and no notification fires.
func scanCommand(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file (default $"+configEnv+")")
	file := fs.String("file", "", "Saved HTML page to scan")
	cam := fs.Bool("camera", false, "Treat the page as the camera status table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init("warn")

	kind := config.KindMain
	if *cam {
		kind = config.KindCamera
	}
	agg, err := processor.NewAggregator(cfg, kind)
	if err != nil {
		return err
	}

	p := state.NewPersistence(state.NewMemoryStore(), cfg.Store.Prefix)
	s, err := scheduler.NewSession(scheduler.Options{
		Name:       "scan",
		Kind:       kind,
		Config:     scheduler.Config{Camera: *cam},
		Source:     &document.FileSource{Path: *file},
		Aggregator: agg,
		Cooldown:   alerts.NewCooldown(cfg.Thresholds.Cooldown, p),
		State:      p,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	out := s.ScanOnce(ctx, true)
	if out.Err != nil {
		return out.Err
	}
	if out.Outcome == alerts.OutcomeEmpty {
		fmt.Println("no alerts")
		return nil
	}
	fmt.Println(p.Report(ctx))
	return nil
}

func printUsage() {
	fmt.Printf(`coldwatch CLI

Usage:
  coldwatch <command> [flags]

Commands:
  run        Start every configured surface and the HTTP server
  validate   Load and validate a config file without starting anything
  scan       Scan a saved page once and print the report

The config path defaults to $%s, then to the built-in defaults.

Examples:
  coldwatch run -config ./coldwatch.yaml
  coldwatch validate -config ./coldwatch.yaml
  coldwatch scan -file ./dashboard.html
  coldwatch scan -file ./cameras.html -camera
`, configEnv)
}
