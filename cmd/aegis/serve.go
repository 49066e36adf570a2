package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegiskernel/aegis/pkg/kernel"
	"github.com/aegiskernel/aegis/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kernel until interrupted",
	Long: `Boot the kernel over the data directory, resume every non-terminal
mission, and keep serving until SIGINT or SIGTERM. Prometheus metrics
are exposed on the metrics address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		k, err := openKernel()
		if err != nil {
			return err
		}

		fmt.Printf("Aegis kernel running over %s\n", dataDir)
		fmt.Printf("  Stage: %s\n", k.Capability().Stage)
		fmt.Printf("  Metrics: http://%s/metrics\n", metricsAddr)
		fmt.Println()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", k.HealthHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()

		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		if err := k.Shutdown(); err != nil {
			return fmt.Errorf("%w: %v", kernel.ErrStorage, err)
		}
		fmt.Println("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9290", "Prometheus metrics listen address")
}
