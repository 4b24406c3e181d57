package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"persona-chat/internal/api"
	"persona-chat/internal/assistant"
	"persona-chat/internal/config"
	"persona-chat/internal/db"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "persona-chat",
	Short: "Chat with AI personas",
	Long: `Serves the persona chat API, or asks a persona one question from the terminal.

Examples:
  persona-chat                                   # same as serve
  persona-chat serve
  persona-chat ask --user u1 --persona <id> "Hello!"`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the components shared by every command
type app struct {
	cfg      *config.Config
	db       *db.DB
	settings *config.Settings
	service  *assistant.Service
}

// newApp loads configuration, opens and migrates the database and builds the service
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Println("Database migrated successfully")

	settings, err := config.LoadSettings(ctx, database, cfg.Providers.Seed())
	if err != nil {
		database.Close()
		return nil, err
	}

	opts := []assistant.ServiceOption{
		assistant.WithTimeout(cfg.RequestTimeout),
		assistant.WithEndpoints(cfg.Providers.Endpoints()),
	}
	if !cfg.TokenDelay {
		opts = append(opts, assistant.WithTokenDelay(0, 0))
	}

	return &app{
		cfg:      cfg,
		db:       database,
		settings: settings,
		service:  assistant.NewService(settings, database, database, opts...),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	router := api.NewRouter(a.db, a.service, a.settings, a.cfg.StaticDir)

	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server starting on port %s", a.cfg.Port)
		if a.cfg.StaticDir != "" {
			log.Printf("Static files served from: %s", a.cfg.StaticDir)
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if n := a.service.InFlight(); n > 0 {
			log.Printf("Shutdown left %d AI calls in flight", n)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("Server stopped gracefully")
	return nil
}
