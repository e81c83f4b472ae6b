package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outofcontext/contextgcd/internal/mcpadapter"
)

func newServeCmd() *cobra.Command {
	var transport string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the context engine as an MCP server",
		Long: `Serve exposes every ContextManager operation as an MCP tool over the
given transport. Only stdio is implemented; it is what every current
MCP-speaking coding agent launches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, transport, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	return cmd
}

func runServe(cmd *cobra.Command, transport, metricsAddr string) error {
	a, err := newApp(projectDir, metricsAddr != "")
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" && a.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			a.logger.Info("serving prometheus metrics", slog.String("addr", metricsAddr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
	}

	srv := mcpadapter.New(a.manager, a.logger)

	switch transport {
	case "stdio":
		return srv.ServeStdio(ctx)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
