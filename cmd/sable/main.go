// ABOUTME: Entry point for the sable chat bot
// ABOUTME: Wires config, store, completion client, connectors, and the management API

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/sable-bot/sable/internal/api"
	"github.com/sable-bot/sable/internal/assist"
	"github.com/sable-bot/sable/internal/config"
	"github.com/sable-bot/sable/internal/engine"
	"github.com/sable-bot/sable/internal/platform/devnet"
	"github.com/sable-bot/sable/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _     _
 ___  __ _| |__ | | ___
/ __|/ _' | '_ \| |/ _ \
\__ \ (_| | |_) | |  __/
|___/\__,_|_.__/|_|\___|
`

// getConfigPath returns the path to the sable config file.
// Priority: SABLE_CONFIG env var > ./config.yaml > ~/.config/sable/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SABLE_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sable", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sable <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Run the bot")
		fmt.Println("  validate   Check the config file and exit")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "validate":
		err = runValidate()
	case "version":
		fmt.Printf("sable %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Bot:     %s\n", cfg.Bot.Name)
	green.Print("    ▶ ")
	fmt.Printf("Memory:  %s\n", cfg.Memory.Path)
	if cfg.Platforms.DevNet.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("DevNet:  %s\n", cfg.Platforms.DevNet.APIURL)
	}
	if cfg.Server.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("API:     %s\n", cfg.Server.Addr)
	}
	fmt.Println()

	logger.Info("starting sable", "config", configPath, "version", version)

	st, err := store.NewSQLiteStore(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	client := assist.NewClient(assist.Config{
		APIKey:        cfg.Assist.APIKey,
		APIURL:        cfg.Assist.APIURL,
		Model:         cfg.Assist.Model,
		Provider:      cfg.Assist.Provider,
		Temperature:   cfg.Assist.Temperature,
		MaxTokens:     cfg.Assist.MaxTokens,
		Timeout:       cfg.Assist.Timeout,
		RetryAttempts: cfg.Assist.RetryAttempts,
	}, logger)

	if !client.ValidateKey(ctx) {
		logger.Warn("assist API key check failed, completions may be rejected")
	}

	eng := engine.New(engine.Config{
		BotName:      cfg.Bot.Name,
		SystemPrompt: cfg.Bot.SystemPrompt,
		HistoryLimit: cfg.Bot.HistoryLimit,
	}, st, client, logger)

	if cfg.Platforms.DevNet.Enabled {
		dn := cfg.Platforms.DevNet
		eng.RegisterConnector(devnet.New(devnet.Config{
			APIURL:                 dn.APIURL,
			BotToken:               dn.BotToken,
			RespondToDMs:           dn.RespondToDMs,
			RespondToGroups:        dn.RespondToGroups,
			RequireMentionInGroups: dn.RequireMentionInGroups,
			RateLimitMessages:      dn.RateLimitMessages,
			RateLimitWindow:        dn.RateLimitWindow,
			MessageLimit:           dn.MessageLimit,
			ChunkDelay:             dn.ChunkDelay,
			Format:                 dn.Format,
		}, eng, logger))
	}

	var apiSrv *api.Server
	if cfg.Server.Enabled {
		apiSrv = api.New(cfg.Server.Addr, cfg.Server.APIKey, eng, st, logger)
		go func() {
			if err := apiSrv.Start(); err != nil {
				logger.Error("management API stopped", "error", err)
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := eng.Stop(); err != nil {
		logger.Warn("engine stop", "error", err)
	}
	if apiSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown", "error", err)
		}
	}
	return nil
}

func runValidate() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ %s is valid\n", configPath)
	fmt.Printf("  bot: %s\n", cfg.Bot.Name)
	fmt.Printf("  model: %s\n", cfg.Assist.Model)
	if cfg.Platforms.DevNet.Enabled {
		fmt.Printf("  devnet: %s\n", cfg.Platforms.DevNet.APIURL)
	} else {
		fmt.Println("  devnet: disabled")
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs.
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
