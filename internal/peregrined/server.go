package peregrined

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peregrine-desk/peregrine/internal/peregrined/config"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/service/worker"
	"github.com/peregrine-desk/peregrine/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type apiServer struct {
	engine     *gin.Engine
	httpServer *http.Server

	streamModule *stream.Module
	cfg          *config.Config
}

type preparedAPIServer struct {
	*apiServer
}

func createAPIServer(cfg *config.Config) (*apiServer, error) {
	// Initialize Stream module (K8S-style: Config → Complete → New).
	streamCfg := &stream.Config{
		StoreType:  cfg.Stream.StoreType,
		BoltDBPath: cfg.Stream.BoltDBPath,
		MaxWorkers: cfg.Stream.MaxWorkers,
		Worker: worker.Config{
			Command: cfg.Stream.WorkerCommand,
			Args:    cfg.Stream.WorkerArgs,
		},
	}
	streamModule, err := streamCfg.Complete().New(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stream module: %w", err)
	}
	logger.Info("[Peregrined] Stream module initialized successfully")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	addr := fmt.Sprintf("%s:%d", cfg.Serving.BindAddress, cfg.Serving.BindPort)
	server := &apiServer{
		engine: engine,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		streamModule: streamModule,
		cfg:          cfg,
	}
	return server, nil
}

func (s *apiServer) PrepareRun() preparedAPIServer {
	initRouter(s.engine, &routerDeps{
		streamModule:    s.streamModule,
		authConfig:      s.cfg.AuthConfig(),
		enableProfiling: s.cfg.Serving.EnableProfiling,
	})
	return preparedAPIServer{s}
}

func (s preparedAPIServer) Run() error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Peregrined] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("[Peregrined] received signal %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting new connections first, then tear down workers and the
	// store: the gateway keeps persisting events until the workers are gone.
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("[Peregrined] HTTP shutdown: %v", err)
	}
	if err := s.streamModule.Close(); err != nil {
		logger.Warn("[Peregrined] stream module close: %v", err)
	}
	return nil
}
