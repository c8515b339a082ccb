package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/filestore"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/server"
)

var log = slog.Default()

const shutdownTimeout = 5 * time.Second

// runServe blocks until ctx is cancelled or a listener fails.
func runServe(ctx context.Context, cfg *Config) error {
	store, err := filestore.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open file store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	comp := &compiler.CommandCompiler{
		Command:           cfg.Compiler.Command,
		Dir:               cfg.Server.WorkspaceDir,
		ExecutionTimeout:  cfg.Compiler.ExecutionTimeout,
		InactivityTimeout: cfg.Compiler.InactivityTimeout,
	}

	srv := server.New(cfg.serverConfig(), comp, store, server.WithMetrics(m))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, srv.Health())

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.GRPCPort, err)
		}
		log.Info("gRPC health server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("Metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	// shutdown: first signal or first listener failure
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownServers(shutdownCtx, grpcSrv, httpSrv, metricsSrv)
	})

	err = g.Wait()
	log.Info("Server stopped. Goodbye!")
	return err
}

// shutdownServers stops gRPC, then metrics (optional), then HTTP. Only the
// HTTP error is returned; a metrics failure is logged.
func shutdownServers(ctx context.Context, grpcSrv *grpc.Server, httpSrv, metricsSrv *http.Server) error {
	grpcSrv.GracefulStop()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	return httpSrv.Shutdown(ctx)
}
