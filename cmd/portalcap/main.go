// Package main runs portalcap: a Telegram bot that logs into the learning
// portal, screenshots the configured pages and sends them to one chat.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/portalcap/pkg/bot"
	"github.com/entrhq/portalcap/pkg/browser"
	"github.com/entrhq/portalcap/pkg/config"
	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/entrhq/portalcap/pkg/notify"
	"github.com/entrhq/portalcap/pkg/orchestrator"
	"github.com/entrhq/portalcap/pkg/server"
	"github.com/entrhq/portalcap/pkg/tracing"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	EnvFile     string
	Once        bool
	LogStderr   bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("portalcap v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("portalcap failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.EnvFile, "env-file", "", "Path to dotenv file (default: .env when present)")
	flag.BoolVar(&cli.Once, "once", false, "Run a single capture immediately and exit")
	flag.BoolVar(&cli.LogStderr, "log-stderr", false, "Also write log lines to stderr")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "portalcap - portal screenshots delivered over Telegram\n\n")
		fmt.Fprintf(os.Stderr, "Usage: portalcap [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s, %s, %s, %s are required.\n",
			config.EnvTelegramToken, config.EnvChatID, config.EnvPortalUser, config.EnvPortalPass)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Wait for /start in the bot chat\n")
		fmt.Fprintf(os.Stderr, "  portalcap\n\n")
		fmt.Fprintf(os.Stderr, "  # One run from cron\n")
		fmt.Fprintf(os.Stderr, "  portalcap -once -config portalcap.yaml\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	if cli.LogStderr {
		logging.SetTee(os.Stderr)
	}

	logger, err := logging.NewLogger("portalcap")
	if err != nil {
		log.Printf("continuing with stderr logging: %v", err)
	}
	defer logger.Close()
	logger.Infof("portalcap v%s starting, log file %q", version, logger.LogPath())

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: cli.ConfigFile,
		EnvFile:    cli.EnvFile,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.TraceFile != "" {
		shutdown, err := setupTracing(cfg.TraceFile)
		if err != nil {
			return err
		}
		defer shutdown(logger)
	}

	resolved, err := cfg.ResolvedTargets()
	if err != nil {
		return err
	}
	targets := make([]browser.Target, 0, len(resolved))
	for _, t := range resolved {
		targets = append(targets, browser.Target{Name: t.Name, URL: t.URL, ReadySelector: t.ReadySelector})
	}

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	manager := browser.NewManager(browser.Options{
		ExecutablePath:    cfg.Browser.ExecutablePath,
		Headless:          cfg.Browser.Headless,
		Args:              cfg.Browser.Args,
		Viewport:          browser.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ReadyTimeout:      cfg.Browser.ReadyTimeout,
		ElementTimeout:    cfg.Browser.ElementTimeout,
		SettleDelay:       cfg.Browser.SettleDelay,
		ArtifactDir:       cfg.ArtifactDir,
		InstallDriver:     cfg.Browser.InstallDriver,
	}, logger.With("browser"))
	if err := manager.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warnf("failed to stop playwright: %v", err)
		}
	}()

	telegram, err := notify.NewTelegram(notify.TelegramConfig{
		BotToken:          cfg.Telegram.Token,
		ChatID:            cfg.Telegram.ChatID,
		BaseURL:           cfg.Telegram.APIBaseURL,
		ASCIIOnly:         cfg.Telegram.ASCIIOnly,
		Timeout:           cfg.Telegram.RequestTimeout,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
	}, logger.With("notify"))
	if err != nil {
		return fmt.Errorf("failed to create telegram notifier: %w", err)
	}

	orch := orchestrator.New(manager, telegram, orchestrator.Config{
		Credentials: browser.Credentials{
			LoginURL:         cfg.ResolvedLoginURL(),
			Username:         cfg.Portal.Username,
			Password:         cfg.Portal.Password,
			UsernameSelector: cfg.Portal.UsernameSelector,
			PasswordSelector: cfg.Portal.PasswordSelector,
			SubmitSelector:   cfg.Portal.SubmitSelector,
		},
		Targets: targets,
	}, logger.With("orchestrator"))

	if cfg.HTTPAddr != "" {
		status := server.New(cfg.HTTPAddr, orch, logger.With("server"))
		go func() {
			if err := status.ListenAndServe(ctx); err != nil {
				logger.Errorf("status server stopped: %v", err)
			}
		}()
	}

	if cli.Once {
		return runOnce(ctx, orch)
	}

	b := bot.New(telegram, orch, bot.Config{
		ChatID:          cfg.Telegram.ChatID,
		AllowedChatOnly: cfg.Telegram.AllowedChatOnly,
		BotName:         cfg.Telegram.BotName,
		PollTimeout:     cfg.Telegram.PollTimeout,
	}, logger.With("bot"))
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("stopped")
	return nil
}

// setupTracing exports spans to path until the returned func is called.
func setupTracing(path string) (func(*logging.Logger), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	provider, err := tracing.NewProvider(file, "portalcap", version)
	if err != nil {
		file.Close()
		return nil, err
	}

	return func(logger *logging.Logger) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warnf("failed to flush traces: %v", err)
		}
		file.Close()
	}, nil
}

// runOnce performs one run and prints its summary to stdout.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator) error {
	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if summary.Err != nil {
		return summary.Err
	}
	if summary.Failed() > 0 {
		return fmt.Errorf("%d of %d pages were not delivered", summary.Failed(), len(summary.Pages))
	}
	return nil
}
