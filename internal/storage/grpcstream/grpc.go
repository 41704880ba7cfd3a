// Package grpcstream is a storage engine that pushes alerts to gRPC
// subscribers as they are detected.
package grpcstream

import (
	"context"
	"sync"

	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const clientBuffer = 100

type subscriber struct {
	kinds map[types.AlertKind]bool
	ch    chan *structpb.Struct
}

// Storage implements a gRPC alert stream
type Storage struct {
	sync.RWMutex
	clients map[uuid.UUID]*subscriber
	closed  bool
	health  *storage.HealthManager
	logger  *zap.SugaredLogger
}

// New creates a gRPC stream engine. The caller registers it on a grpc.Server
// with RegisterAlertStreamServer.
func New(hm *storage.HealthManager, logger *zap.SugaredLogger) *Storage {
	return &Storage{
		clients: make(map[uuid.UUID]*subscriber),
		health:  hm,
		logger:  logger,
	}
}

// StartStorageEngine creates a goroutine loop to receive alerts and send
// them out to subscribed clients
func (g *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Alert {
	g.logger.Info("starting gRPC stream storage engine...")
	g.health.UpdateHealth("grpc", storage.CreateHealthData(storage.StatusHealthy, "accepting subscribers", nil))

	alertChan := make(chan types.Alert, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer g.closeClients()
		storage.ProcessAlerts(ctx, alertChan, g.StoreAlert, "grpc", g.health, g.logger)
	}()
	return alertChan
}

// StoreAlert hands the alert to every subscriber that wants its kind. A
// subscriber whose buffer is full misses the alert.
func (g *Storage) StoreAlert(a types.Alert) error {
	msg, err := AlertToStruct(a)
	if err != nil {
		return err
	}

	g.RLock()
	defer g.RUnlock()

	for id, c := range g.clients {
		if c.kinds != nil && !c.kinds[a.Kind] {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			g.logger.Debugf("subscriber %s is not keeping up, dropping alert %s", id, a.ID)
		}
	}
	return nil
}

// Subscribe streams alerts to one client until it goes away or the engine
// shuts down
func (g *Storage) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	kinds, err := requestedKinds(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	id, c, err := g.registerClient(kinds)
	if err != nil {
		return err
	}
	defer g.deregisterClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(msg); err != nil {
				g.logger.Debugf("subscriber %s went away: %v", id, err)
				return err
			}
		}
	}
}

// Subscribers returns the number of connected clients
func (g *Storage) Subscribers() int {
	g.RLock()
	defer g.RUnlock()
	return len(g.clients)
}

// CheckHealth reports the engine healthy while it is accepting subscribers
func (g *Storage) CheckHealth(ctx context.Context) storage.HealthData {
	g.RLock()
	defer g.RUnlock()
	if g.closed {
		return storage.CreateHealthData(storage.StatusUnhealthy, "alert stream closed", nil)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "accepting subscribers", nil)
}

func (g *Storage) registerClient(kinds map[types.AlertKind]bool) (uuid.UUID, *subscriber, error) {
	g.Lock()
	defer g.Unlock()

	if g.closed {
		return uuid.Nil, nil, status.Error(codes.Unavailable, "alert stream is shut down")
	}

	id := uuid.New()
	c := &subscriber{kinds: kinds, ch: make(chan *structpb.Struct, clientBuffer)}
	g.clients[id] = c
	g.logger.Infof("registered alert stream subscriber %s", id)
	return id, c, nil
}

func (g *Storage) deregisterClient(id uuid.UUID) {
	g.Lock()
	defer g.Unlock()
	if _, ok := g.clients[id]; ok {
		delete(g.clients, id)
		g.logger.Infof("deregistered alert stream subscriber %s", id)
	}
}

// closeClients ends every open subscription after the last alert is queued
func (g *Storage) closeClients() {
	g.Lock()
	defer g.Unlock()
	g.closed = true
	for id, c := range g.clients {
		close(c.ch)
		delete(g.clients, id)
	}
}
