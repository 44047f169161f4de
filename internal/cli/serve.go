package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dataprofiler/dashboard/internal/api"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	Long: `Mount the status engine and serve it over HTTP.

Endpoints:
  GET    /api/status           current status snapshot
  GET    /api/status/stream    status snapshots as Server-Sent Events
  GET    /api/ws/status        status snapshots over WebSocket
  POST   /api/upload           start a job (multipart field "file")
  GET    /api/result           outcome of the most recent job
  GET    /api/reports          report history`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, err := openReports()
	if err != nil {
		return fmt.Errorf("open report history: %w", err)
	}
	defer reports.Close()

	sess, err := mountSession(reports)
	if err != nil {
		return fmt.Errorf("mount session: %w", err)
	}
	defer sess.Close()

	_, srv := api.NewServer(cfg, &api.Dependencies{
		Engine:         sess,
		Reports:        reports,
		HistoryLimit:   cfg.Storage.HistoryLimit,
		MaxMessageSize: cfg.MaxMessageBytes(),
		Version:        Version,
	})

	printBanner()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// Close the session first so open status streams end.
		sess.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func printBanner() {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Data Profiler Dashboard                         ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Analysis:  %-46s║\n", cfg.Analysis.BaseURL)
	fmt.Printf("║  Events:    %-46s║\n", cfg.Analysis.EventsURL)
	fmt.Printf("║  History:   %-46s║\n", cfg.Storage.Backend)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
