package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ZanzyTHEbar/eco-classifier/internal/config"
	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/ratelimit"
	"github.com/ZanzyTHEbar/eco-classifier/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// @title        EcoClassifier API
// @version      1.0
// @description  Records waste-classification events and serves time-bucketed statistics over them.
// @BasePath     /

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		configFile string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:          "ecoclassifier",
		Short:        "EcoClassifier event service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded

			// Structured logging setup
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			})))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (default ./config.yaml if present)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	// serve is the default when no subcommand is given
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(
		serveCmd,
		exportCommand(&cfg),
		statsCommand(&cfg),
		rateLimitCommand(&cfg),
	)
	return rootCmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gin.SetMode(cfg.GinMode)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.SetDefault(a.logger.Logger)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	a.security.Cleanup(ctx)

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "timezone", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-quit:
	}
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server exited")
	return nil
}

func exportCommand(cfg **config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every event as CSV",
		Long:  `Write every event, newest first, in the same CSV format as GET /api/export.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newServiceApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			rows, err := a.service.Export(cmd.Context(), w)
			if err != nil {
				return err
			}
			slog.Info("Export complete", "rows", rows, "output", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func statsCommand(cfg **config.Config) *cobra.Command {
	var q types.StatsQuery

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print one aggregation as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := q.Filter()
			if err != nil {
				return err
			}

			a, err := newServiceApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.service.Stats(cmd.Context(), filter, domain.ParseGranularity(q.GroupBy))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(types.NewStatsResponse(result))
		},
	}

	cmd.Flags().StringVar(&q.RangeStart, "from", "", "Inclusive lower bound (ISO-8601)")
	cmd.Flags().StringVar(&q.RangeEnd, "to", "", "Inclusive upper bound (ISO-8601)")
	cmd.Flags().StringVar(&q.GroupBy, "group-by", "day", "hour, day or month")
	cmd.Flags().StringVar(&q.Categories, "categories", "", "Comma-separated categories")
	cmd.Flags().StringVar(&q.DeviceID, "device", "", "Device filter")
	return cmd
}

func rateLimitCommand(cfg **config.Config) *cobra.Command {
	var (
		ip  string
		all bool
	)

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear upload rate limit budgets in Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (ip == "") == !all {
				return fmt.Errorf("pass exactly one of --ip or --all")
			}

			c := *cfg
			redisClient, err := ratelimit.NewRedisClient(cmd.Context(), c.RedisAddr, c.RedisPassword, c.RedisDB)
			if err != nil {
				return err
			}
			if !redisClient.IsEnabled() {
				return fmt.Errorf("REDIS_ADDR is not set; in-memory budgets reset when the server restarts")
			}
			defer redisClient.Close()

			limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), nil)
			defer limiter.Close()

			var removed int
			if all {
				removed, err = limiter.InvalidateAll(cmd.Context())
			} else {
				removed, err = limiter.InvalidateIP(cmd.Context(), ip)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d rate limit keys\n", removed)
			return nil
		},
	}
	resetCmd.Flags().StringVar(&ip, "ip", "", "Client IP to reset")
	resetCmd.Flags().BoolVar(&all, "all", false, "Reset every client")

	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage upload rate limits",
	}
	cmd.AddCommand(resetCmd)
	return cmd
}
