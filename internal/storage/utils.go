package storage

import (
	"context"
	"time"

	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

// HealthChecker is implemented by engines that can probe their backend
type HealthChecker interface {
	CheckHealth(ctx context.Context) HealthData
}

// StartHealthMonitor periodically probes checker and records the result
func StartHealthMonitor(ctx context.Context, hm *HealthManager, engine string, checker HealthChecker, interval time.Duration, logger *zap.SugaredLogger) {
	go func() {
		update := func() {
			health := checker.CheckHealth(ctx)
			hm.UpdateHealth(engine, health)
			logger.Debugf("updated %s health status: %s", engine, health.Status)
		}

		update()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				update()
			case <-ctx.Done():
				logger.Infof("stopping %s health monitor", engine)
				return
			}
		}
	}()
}

// ProcessAlerts feeds alerts from alertChan to processor until the channel is
// closed or ctx is cancelled. Processor errors are logged and reflected in hm
// but never stop the loop.
func ProcessAlerts(ctx context.Context, alertChan <-chan types.Alert, processor func(types.Alert) error, name string, hm *HealthManager, logger *zap.SugaredLogger) {
	healthy := true
	for {
		select {
		case a, ok := <-alertChan:
			if !ok {
				logger.Infof("%s alert channel closed. Stopping alert processor", name)
				return
			}
			err := processor(a)
			switch {
			case err != nil:
				logger.Errorf("%s alert processor error: %v", name, err)
				if hm != nil {
					hm.UpdateHealth(name, CreateHealthData(StatusUnhealthy, "could not store alert", err))
				}
				healthy = false
			case !healthy:
				if hm != nil {
					hm.UpdateHealth(name, CreateHealthData(StatusHealthy, "storing alerts", nil))
				}
				healthy = true
			}
		case <-ctx.Done():
			logger.Infof("cancellation request received. Cancelling %s alert processor", name)
			return
		}
	}
}

// CreateHealthData creates a basic health data structure
func CreateHealthData(status, message string, err error) HealthData {
	health := HealthData{
		LastCheck: time.Now(),
		Status:    status,
		Message:   message,
	}
	if err != nil {
		health.Error = err.Error()
	}
	return health
}
