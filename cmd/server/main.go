// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/storybox/internal/api/connect"
	"github.com/osa030/storybox/internal/app/advance"
	"github.com/osa030/storybox/internal/app/orchestrator"
	"github.com/osa030/storybox/internal/app/persistence"
	"github.com/osa030/storybox/internal/app/playback"
	"github.com/osa030/storybox/internal/infra/audio"
	"github.com/osa030/storybox/internal/infra/config"
	"github.com/osa030/storybox/internal/infra/device"
	"github.com/osa030/storybox/internal/infra/kv"
	"github.com/osa030/storybox/internal/infra/library"
	"github.com/osa030/storybox/internal/infra/logger"
)

var (
	app        = kingpin.New("storybox-server", "storybox playback queue server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() { _ = logCloser.Close() }()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		printConfig(os.Stdout, cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	// Persistence backend
	store, err := kv.Open(cfg.Persistence.Type, cfg.Persistence.Settings)
	if err != nil {
		return fmt.Errorf("failed to open persistence store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close persistence store")
		}
	}()
	persist := persistence.New(store, cfg.Queue.StorageKey, cfg.Queue.SeedCount)

	// Story library
	lib, err := library.Open(cfg.Library.Type, cfg.Library.Settings)
	if err != nil {
		return fmt.Errorf("failed to open story library: %w", err)
	}

	// Local playback
	sink, err := audio.NewSink(cfg.Audio.Sink, cfg.Audio.SinkSettings)
	if err != nil {
		return fmt.Errorf("failed to create audio sink: %w", err)
	}
	loader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	pb := playback.NewController(sink, loader, playback.Config{
		Volume:      cfg.Playback.Volume,
		Rate:        cfg.Playback.Rate,
		LoadTimeout: cfg.LoadTimeout(),
	})

	// Remote device
	deviceClient, err := device.NewClient(cfg.Remote.DeviceURL, &http.Client{Timeout: cfg.DeviceTimeout()})
	if err != nil {
		return fmt.Errorf("invalid device url: %w", err)
	}

	// Create orchestrator
	manager := orchestrator.NewManager(orchestrator.Config{
		Flags:          advance.Flags{Shuffle: cfg.Queue.Shuffle, RepeatAll: cfg.Queue.RepeatAll},
		PollInterval:   cfg.PollInterval(),
		Visible:        cfg.RemoteVisible(),
		LibraryRefresh: cfg.LibraryRefresh(),
	}, lib, persist, pb, deviceClient)

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		manager.Close()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	// Create RPC service
	queueService := apiconnect.NewQueueService(manager)
	if cfg.Server.ControlToken == "" {
		zlog.Warn().Msg("No control token configured, mutating procedures are open")
	}
	queuePath, queueHandler := apiconnect.NewQueueServiceHandler(
		queueService,
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.Server.ControlToken)),
	)

	// Create HTTP mux
	mux := http.NewServeMux()
	mux.Handle(queuePath, queueHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Execute startup hook if configured
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	// Close the orchestrator first to end watch streams and flush the queue order
	manager.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// newLoader creates the audio loader with the optional disk cache.
func newLoader(cfg *config.Config) (*audio.Loader, error) {
	if !cfg.Audio.Cache.Enabled {
		return audio.NewLoader(nil, nil), nil
	}
	cache, err := audio.NewCache(cfg.Audio.Cache.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio cache: %w", err)
	}
	return audio.NewLoader(nil, cache), nil
}

// printConfig prints the effective configuration.
func printConfig(w io.Writer, cfg *config.Config) {
	token := "(none)"
	if cfg.Server.ControlToken != "" {
		token = "(set)"
	}
	fmt.Fprintln(w, "Config OK:")
	fmt.Fprintf(w, "  %-14s %s\n", "addr", cfg.Server.Addr)
	fmt.Fprintf(w, "  %-14s %s\n", "control token", token)
	fmt.Fprintf(w, "  %-14s %s\n", "device", cfg.Remote.DeviceURL)
	fmt.Fprintf(w, "  %-14s every %s (visible=%t)\n", "remote poll", cfg.PollInterval(), cfg.RemoteVisible())
	fmt.Fprintf(w, "  %-14s %s\n", "persistence", cfg.Persistence.Type)
	fmt.Fprintf(w, "  %-14s %s\n", "library", cfg.Library.Type)
	fmt.Fprintf(w, "  %-14s %s (cache=%t)\n", "audio sink", cfg.Audio.Sink, cfg.Audio.Cache.Enabled)
	fmt.Fprintf(w, "  %-14s shuffle=%t repeat_all=%t seed=%d\n", "queue", cfg.Queue.Shuffle, cfg.Queue.RepeatAll, cfg.Queue.SeedCount)
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
