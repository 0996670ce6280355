package cmd

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
	"github.com/pace-noge/defense-probe/internal/infrastructure/runrepo"
	operatorHTTP "github.com/pace-noge/defense-probe/internal/operator/delivery/http"
	operatorUsecase "github.com/pace-noge/defense-probe/internal/operator/usecase"
	runnerConfig "github.com/pace-noge/defense-probe/internal/runner/config"
	runnerHTTP "github.com/pace-noge/defense-probe/internal/runner/delivery/http"
	runnerWebSocket "github.com/pace-noge/defense-probe/internal/runner/delivery/websocket"
	runnerUsecase "github.com/pace-noge/defense-probe/internal/runner/usecase"
)

const healthService = "defense-probe.Runner"

// NewServeCommand creates the serve command
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the run API, event stream and gRPC health service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "grpc-port",
				Aliases: []string{"gp"},
				Usage:   "gRPC port for the health service",
				EnvVars: []string{"GRPC_PORT"},
			},
			&cli.IntFlag{
				Name:    "http-port",
				Aliases: []string{"hp"},
				Usage:   "HTTP port for the run API",
				EnvVars: []string{"HTTP_PORT"},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origin",
				Usage:   "CORS origin allowed to call the API; repeatable",
				EnvVars: []string{"ALLOWED_ORIGINS"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := runnerConfig.LoadEngineConfig()
	if err != nil {
		return fmt.Errorf("failed to load engine config: %w", err)
	}
	if c.IsSet("grpc-port") {
		cfg.GRPCPort = c.Int("grpc-port")
	}
	if c.IsSet("http-port") {
		cfg.HTTPPort = c.Int("http-port")
	}
	auth.SetJWTSecret(cfg.JWTSecretKey)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	stack, err := buildEngineStack(bgCtx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	hub := runnerWebSocket.NewHub()
	go hub.StartHub(bgCtx)

	stack.options.Runs = runrepo.NewInMemoryRunRepository()
	stack.options.EventSinks = append(stack.options.EventSinks, hub)
	runnerUC := runnerUsecase.NewRunnerUsecase(stack.dispatcher, stack.options)
	defer runnerUC.Close()

	httpHandler := runnerHTTP.NewHTTPHandler(runnerUC, stack.results, stack.metrics.Handler(), c.StringSlice("allowed-origin"))
	httpHandler.RegisterWebSocketHandler(hub.HandleWebSocket)
	if stack.store != nil {
		operatorHandler := operatorHTTP.NewOperatorHandler(operatorUsecase.NewOperatorUsecase(stack.store, 0))
		operatorHandler.RegisterRoutes(httpHandler.Router, httpHandler.API())
	} else {
		log.Println("No database configured: operator login disabled, use the token command to issue API tokens")
	}

	// gRPC carries only the health service; the API is HTTP.
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(recovery.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	go func() {
		log.Printf("gRPC health server starting on port %d...", cfg.GRPCPort)
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpHandler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server starting on port %d...", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	bgCancel()
	grpcServer.GracefulStop()

	log.Println("Gracefully stopped.")
	return nil
}
