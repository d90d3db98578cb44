package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/metrics"
	"github.com/classguard/monitor/model"
)

// Backend is one place sensor readings get written to.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Store persists a reading.
	Store(reading model.SensorReading) error
	// Close releases the backend's resources.
	Close() error
}

// HistoryQuery selects readings for the API.
type HistoryQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Querier is implemented by backends that can read data back out.
type Querier interface {
	// Latest returns the most recent stored reading.
	Latest() (model.SensorReading, error)
	// History returns readings in [From, To), newest first, capped at Limit.
	History(q HistoryQuery) ([]model.SensorReading, error)
}

// Manager fans readings out to every enabled backend. A failing backend is
// logged and counted but never blocks the others.
type Manager struct {
	backends []Backend
	mutex    sync.RWMutex
}

// NewManager builds the backends named in the storage configuration.
func NewManager(cfg config.StorageConfig) (*Manager, error) {
	m := &Manager{}

	if cfg.File.Enabled {
		fs, err := NewFileStorage(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("file storage: %v", err)
		}
		m.backends = append(m.backends, fs)
	}

	if cfg.Database.Enabled {
		db, err := NewDatabaseStorage(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("database storage: %v", err)
		}
		m.backends = append(m.backends, db)
	}

	if cfg.InfluxDB.Enabled {
		influx, err := NewInfluxStorage(cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("influxdb storage: %v", err)
		}
		m.backends = append(m.backends, influx)
	}

	return m, nil
}

// Store writes the reading to all backends.
func (m *Manager) Store(reading model.SensorReading) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, backend := range m.backends {
		if err := backend.Store(reading); err != nil {
			metrics.StorageErrors.WithLabelValues(backend.Name()).Inc()
			logger.Error("failed to store reading in %s: %v", backend.Name(), err)
		}
	}
	return nil
}

// Querier returns the first backend that supports reading data back.
func (m *Manager) Querier() (Querier, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, backend := range m.backends {
		if q, ok := backend.(Querier); ok {
			return q, true
		}
	}
	return nil, false
}

// AddBackend appends another backend.
func (m *Manager) AddBackend(backend Backend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backends = append(m.backends, backend)
}

// Close closes all backends.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close storage backend %s: %v", backend.Name(), err)
		}
	}
}
