package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gamelibtools/igdbmirror/internal/config"
	"github.com/gamelibtools/igdbmirror/internal/dataset"
	"github.com/gamelibtools/igdbmirror/internal/igdb"
	"github.com/gamelibtools/igdbmirror/internal/logging"
	"github.com/gamelibtools/igdbmirror/internal/web"
)

const usage = `usage: igdbmirror <command>

commands:
  import              load every configured table, importing missing ones from IGDB
  sync                pull the incremental delta for all syncable tables
  serve               load the mirror and start the HTTP status server
  export TABLE ID     write the enriched card of one row to the cards directory
`

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	slog.Info("configuration loaded",
		"data_dir", cfg.Data.Dir,
		"page_limit", cfg.IGDB.PageLimit,
		"request_interval", cfg.IGDB.RequestInterval,
	)

	// Cancelled on SIGINT/SIGTERM so a long import stops at the next
	// request boundary; chunked imports resume from their checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := igdb.New(igdb.Config{
		ClientID:     cfg.IGDB.ClientID,
		ClientSecret: cfg.IGDB.ClientSecret,
		APIURL:       cfg.IGDB.APIURL,
		AuthURL:      cfg.IGDB.AuthURL,
		Interval:     cfg.IGDB.RequestInterval,
	})
	if err := client.Authenticate(ctx); err != nil {
		slog.Error("authentication failed", "error", err)
		os.Exit(1)
	}
	slog.Info("authenticated against IGDB")

	opts := dataset.Options{
		DataDir:      cfg.Data.Dir,
		ConfigDir:    cfg.Data.ConfigDir,
		BigTableSize: cfg.Data.BigTableSize,
		ChunkSize:    cfg.Data.ChunkSize,
		PageLimit:    cfg.IGDB.PageLimit,
	}
	if cfg.Data.DownloadImages {
		opts.Downloader = client
	}
	data, err := dataset.New(client, opts)
	if err != nil {
		slog.Error("failed to build dataset", "error", err)
		os.Exit(1)
	}

	switch command {
	case "import":
		err = runImport(ctx, data)
	case "sync":
		err = runSync(ctx, data)
	case "serve":
		err = runServe(ctx, data, cfg)
	case "export":
		err = runExport(ctx, data, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// runImport loads every table, importing the ones with no cache file yet,
// and persists the result.
func runImport(ctx context.Context, data *dataset.Dataset) error {
	if err := data.Load(ctx); err != nil {
		return err
	}
	return data.Save()
}

// runSync loads the mirror and applies the incremental delta. Sync
// persists applied rows itself, even on partial failure.
func runSync(ctx context.Context, data *dataset.Dataset) error {
	return data.Sync(ctx)
}

// runExport loads the mirror and writes the enriched card of one row.
func runExport(ctx context.Context, data *dataset.Dataset, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("export needs a table name and a row id")
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("row id %q is not an integer", args[1])
	}

	if err := data.Load(ctx); err != nil {
		return err
	}
	path, err := data.ExportCard(ctx, args[0], id, filepath.Join(cfg.Data.Dir, "cards"))
	if err != nil {
		return err
	}
	slog.Info("card written", "file", path)
	return nil
}

// runServe loads the mirror and serves the read-only status API until
// the process is signalled.
func runServe(ctx context.Context, data *dataset.Dataset, cfg *config.Config) error {
	if err := data.Load(ctx); err != nil {
		return err
	}
	if err := data.Save(); err != nil {
		return err
	}

	server := web.NewServer(data)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server); err != nil && err != http.ErrServerClosed {
		return err
	}
	slog.Info("server stopped")
	return nil
}
