// Package storage defines the alert sinks and the plumbing they share.
package storage

import (
	"context"
	"sync"

	"github.com/chrissnell/telematics/internal/types"
)

// StorageEngineInterface is an interface that provides a few standardized
// methods for the alert sinks
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.Alert
}
