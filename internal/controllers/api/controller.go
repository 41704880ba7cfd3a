// Package api serves recent alerts, pipeline statistics and storage health
// over HTTP, and the gRPC alert stream on the same port.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/telematics/internal/dispatcher"
	"github.com/chrissnell/telematics/internal/log"
	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/storage/grpcstream"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"github.com/chrissnell/telematics/pkg/responseformat"
	"github.com/gorilla/mux"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StatsProvider reports pipeline counters
type StatsProvider interface {
	Stats() dispatcher.Stats
}

// Controller represents the API server
type Controller struct {
	ctx       context.Context
	wg        *sync.WaitGroup
	config    config.APIData
	pipeline  StatsProvider
	sources   []sources.Source
	health    *storage.HealthManager
	recent    *RecentAlerts
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger

	Router     *mux.Router
	HTTPServer *http.Server
	GRPCServer *grpc.Server
	grpcHealth *health.Server

	listener net.Listener
	ready    chan struct{}
}

// NewController creates the API controller. stream may be nil when the gRPC
// alert stream is disabled; the gRPC health service is always served.
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg config.APIData, pipeline StatsProvider, srcs []sources.Source, hm *storage.HealthManager, stream *grpcstream.Storage, logger *zap.SugaredLogger) (*Controller, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("api listen address is required")
	}
	if cfg.RecentAlerts == 0 {
		cfg.RecentAlerts = config.DefaultRecentAlerts
	}

	c := &Controller{
		ctx:        ctx,
		wg:         wg,
		config:     cfg,
		pipeline:   pipeline,
		sources:    srcs,
		health:     hm,
		recent:     NewRecentAlerts(cfg.RecentAlerts),
		formatter:  responseformat.NewFormatter(),
		logger:     logger,
		GRPCServer: grpc.NewServer(),
		grpcHealth: health.NewServer(),
		ready:      make(chan struct{}),
	}

	healthpb.RegisterHealthServer(c.GRPCServer, c.grpcHealth)
	if stream != nil {
		grpcstream.RegisterAlertStreamServer(c.GRPCServer, stream)
		c.grpcHealth.SetServingStatus(grpcstream.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}

	c.Router = c.setupRouter()
	c.HTTPServer = &http.Server{
		Handler:           c.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return c, nil
}

func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(c.logger))

	router.HandleFunc("/alerts", c.GetAlerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{kind}", c.GetAlerts).Methods(http.MethodGet)
	router.HandleFunc("/vehicles/{id:[0-9]+}/alerts", c.GetVehicleAlerts).Methods(http.MethodGet)
	router.HandleFunc("/stats", c.GetStats).Methods(http.MethodGet)
	router.HandleFunc("/health", c.GetHealth).Methods(http.MethodGet)

	return router
}

// StartController binds the listener and serves HTTP and gRPC until the
// context is cancelled
func (c *Controller) StartController() error {
	l, err := net.Listen("tcp", c.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", c.config.ListenAddr, err)
	}
	c.listener = l
	close(c.ready)

	c.logger.Infof("Starting API server on %s...", l.Addr())

	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		if err := c.GRPCServer.Serve(grpcL); err != nil && !isClosed(err) {
			c.logger.Errorf("gRPC server error: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := c.HTTPServer.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosed(err) {
			c.logger.Errorf("HTTP server error: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := m.Serve(); err != nil && !isClosed(err) {
			c.logger.Errorf("API listener error: %v", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-c.ctx.Done()
		c.logger.Info("Shutting down the API server...")

		c.grpcHealth.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.HTTPServer.Shutdown(shutdownCtx)
		c.GRPCServer.Stop()
		l.Close()
	}()

	return nil
}

// Addr returns the bound address once StartController has run
func (c *Controller) Addr() net.Addr {
	<-c.ready
	return c.listener.Addr()
}

// StartStorageEngine feeds the recent-alert ring so the controller can sit
// behind the alert distributor like any other engine
func (c *Controller) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Alert {
	c.health.UpdateHealth("api", storage.CreateHealthData(storage.StatusHealthy, "buffering recent alerts", nil))

	alertChan := make(chan types.Alert, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		storage.ProcessAlerts(ctx, alertChan, c.recent.Add, "api", c.health, c.logger)
	}()
	return alertChan
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped)
}
