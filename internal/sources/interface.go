// Package sources turns raw telemetry feeds into parsed records.
package sources

// Source is an interface that provides standard methods for the various
// telemetry feeds
type Source interface {
	StartSource() error
	SourceName() string
	Stats() StatsSnapshot
}
