package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MeKo-Tech/colordeconv/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stain separation over HTTP",
	Long: `Serve accepts images posted to /deconvolve and /stats and answers with a stain
image or JSON statistics. GET /presets lists the known stains.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("default-stain", "H&E", "Stain used when a request names none")
	serveCmd.Flags().Int64("max-body-mb", 64, "Largest accepted upload in MiB")
	serveCmd.Flags().Int64("max-pixels", 100_000_000, "Largest accepted image area in pixels, checked before decoding")
	serveCmd.Flags().Int("workers", runtime.NumCPU(), "Max concurrent separations (default: number of CPUs)")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for separated images")

	bindFlags(serveCmd, []flagBinding{
		{"serve.addr", "addr"},
		{"serve.default_stain", "default-stain"},
		{"serve.max_body_mb", "max-body-mb"},
		{"serve.max_pixels", "max-pixels"},
		{"serve.workers", "workers"},
		{"serve.cache_control", "cache-control"},
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")

	reg, closeRegistry, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeRegistry() // nolint:errcheck

	s := server.New(server.Config{
		Registry:     reg,
		DefaultStain: viper.GetString("serve.default_stain"),
		MaxBodyMB:    viper.GetInt64("serve.max_body_mb"),
		MaxPixels:    viper.GetInt64("serve.max_pixels"),
		Workers:      viper.GetInt("serve.workers"),
		CacheControl: viper.GetString("serve.cache_control"),
	}, logger)

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "max_concurrent", s.Status().MaxConcurrent)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
