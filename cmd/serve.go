package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/content"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
	"github.com/conneroisu/livedoc/internal/presence"
	"github.com/conneroisu/livedoc/internal/renderer"
	"github.com/conneroisu/livedoc/internal/room"
	"github.com/conneroisu/livedoc/internal/server"
	"github.com/conneroisu/livedoc/internal/watcher"
)

const (
	watchDebounce   = 100 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the live editing server",
	Long: `Start the live editing server over the configured content roots.

Open documents are autosaved, watched for changes made outside livedoc, and
shared between every peer editing them.

Examples:
  livedoc serve                          # Serve ./docs on localhost:3300
  livedoc serve --root content --port 8080
  LIVEDOC_TIMING_AUTOSAVE_INTERVAL=5s livedoc serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 3300, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringSliceP("root", "r", nil, "Content root directories (repeatable)")
	serveCmd.Flags().StringSlice("allowed-origin", nil, "Extra origins allowed to connect")
	serveCmd.Flags().SetNormalizeFunc(normalizeFlagName)
	AddFlagValidation(serveCmd, "port", ValidatePort)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("content.roots", serveCmd.Flags().Lookup("root"))
	_ = viper.BindPFlag("server.allowed_origins", serveCmd.Flags().Lookup("allowed-origin"))
}

// originPatterns turns allowed origins into the host patterns the websocket
// handshake matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// services is the running live subsystem.
type services struct {
	store    *content.Store
	presence *presence.Directory
	rooms    *room.Manager
	watcher  *watcher.FileWatcher
	server   *server.Server
}

func buildServices(cfg *config.Config, logger logging.Logger) (*services, error) {
	m := metrics.New()

	store := content.NewStore(cfg, renderer.NewMarkdownRenderer(cfg.Content.DefaultKind),
		content.WithLogger(logger), content.WithMetrics(m))
	dir := presence.NewDirectory(cfg.Timing, presence.WithLogger(logger), presence.WithMetrics(m))
	rooms := room.NewManager(store, dir, cfg.Timing,
		room.WithLogger(logger),
		room.WithMetrics(m),
		room.WithOriginPatterns(originPatterns(cfg.Server.AllowedOrigins)))

	srv, err := server.New(cfg, server.Services{
		Store:    store,
		Presence: dir,
		Rooms:    rooms,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	fw, err := watcher.NewFileWatcher(cfg.Content.Roots, watchDebounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.ExtensionFilter(cfg.Content.Extensions))
	fw.AddHandler(watcher.ReloadHandler(store, logger))

	return &services{store: store, presence: dir, rooms: rooms, watcher: fw, server: srv}, nil
}

func (s *services) start(ctx context.Context) error {
	if err := s.watcher.WatchRoots(ctx); err != nil {
		return fmt.Errorf("failed to watch content roots: %w", err)
	}
	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	if err := s.store.Start(ctx); err != nil {
		return err
	}
	return s.presence.Start(ctx)
}

// stop shuts down in dependency order: the HTTP front and its rooms first
// so their last edits reach the store, then the store's final save.
func (s *services) stop(ctx context.Context, logger logging.Logger) error {
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warn(ctx, err, "HTTP shutdown incomplete")
	}
	if err := s.watcher.Stop(); err != nil {
		logger.Warn(ctx, err, "File watcher stop failed")
	}
	return s.store.Stop(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	if err := svc.start(ctx); err != nil {
		return err
	}

	fmt.Printf("Starting livedoc at http://%s serving %v\n", svc.server.Addr(), cfg.Content.Roots)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.server.Start(ctx) }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "Shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.stop(shutdownCtx, logger); err != nil {
		logger.Error(shutdownCtx, err, "Final save failed")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
