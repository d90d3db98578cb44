package mqtt

import (
	"fmt"

	"github.com/classguard/monitor/alert"
	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/device"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/metrics"
	"github.com/classguard/monitor/model"
	"github.com/classguard/monitor/storage"
	"github.com/classguard/monitor/transform"
)

// Manager runs the telemetry pipeline: sensor messages flow through
// normalization, validation, device tracking, threshold evaluation and
// storage; actuation commands flow back out on the control topic.
type Manager struct {
	client       *Client
	transformer  *transform.Manager
	evaluator    *alert.Evaluator
	tracker      *device.Tracker
	storage      *storage.Manager
	sensorTopic  string
	controlTopic string
}

// NewManager creates the pipeline manager.
func NewManager(cfg *config.Config, transformer *transform.Manager, evaluator *alert.Evaluator,
	tracker *device.Tracker, storageManager *storage.Manager) (*Manager, error) {

	client, err := NewClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT client: %v", err)
	}

	return &Manager{
		client:       client,
		transformer:  transformer,
		evaluator:    evaluator,
		tracker:      tracker,
		storage:      storageManager,
		sensorTopic:  cfg.MQTT.SensorTopic,
		controlTopic: cfg.MQTT.ControlTopic,
	}, nil
}

// Start connects to the broker and subscribes to the sensor topic.
func (m *Manager) Start() error {
	if err := m.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", err)
	}

	if err := m.client.Subscribe(m.sensorTopic, m.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %v", m.sensorTopic, err)
	}

	return nil
}

// Stop disconnects from the broker.
func (m *Manager) Stop() {
	m.client.Disconnect()
}

// handleMessage processes one sensor message end to end. Bad payloads are
// dropped with a log line; a storage failure never blocks actuation.
func (m *Manager) handleMessage(topic string, payload []byte) {
	metrics.ReadingsReceived.Inc()

	reading, err := m.transformer.Normalize(payload)
	if err != nil {
		metrics.ReadingsRejected.Inc()
		logger.Error("failed to normalize payload from %s: %v", topic, err)
		return
	}

	if err := reading.Validate(); err != nil {
		metrics.ReadingsRejected.Inc()
		logger.Warn("rejected reading from %s: %v", topic, err)
		return
	}

	logger.Debug("reading from %s: co2=%v temp=%v hum=%v light=%v noise=%v",
		reading.DeviceID, reading.CO2, reading.Temperature, reading.Humidity,
		reading.Light, reading.Noise)

	m.tracker.Observe(reading)

	if err := m.storage.Store(reading); err != nil {
		logger.Error("failed to store reading: %v", err)
	}

	for _, cmd := range m.evaluator.Evaluate(reading) {
		if err := m.PublishControl(cmd, model.SourceAuto); err != nil {
			logger.Error("failed to publish control command: %v", err)
		}
	}
}

// PublishControl sends a control command to the device.
func (m *Manager) PublishControl(cmd model.ControlCommand, source model.ControlSource) error {
	if cmd.Empty() {
		return fmt.Errorf("control command sets no actuator")
	}

	payload, err := cmd.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize control command: %v", err)
	}

	if err := m.client.Publish(m.controlTopic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %v", m.controlTopic, err)
	}

	metrics.ControlPublished.WithLabelValues(string(source)).Inc()
	logger.Info("published control command (%s): %s", source, payload)
	return nil
}
