package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, exposed on /metrics.
var (
	ReadingsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classguard_readings_received_total",
		Help: "Sensor readings received over MQTT.",
	})

	ReadingsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classguard_readings_rejected_total",
		Help: "Sensor payloads dropped by parsing or validation.",
	})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classguard_alerts_raised_total",
		Help: "Threshold alerts raised, by metric.",
	}, []string{"metric"})

	ControlPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classguard_control_published_total",
		Help: "Control commands published, by source.",
	}, []string{"source"})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classguard_storage_errors_total",
		Help: "Failed writes, by storage backend.",
	}, []string{"backend"})

	DevicesOnline = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "classguard_devices_online",
		Help: "Devices that reported telemetry within the offline window.",
	}, func() float64 {
		if onlineCount == nil {
			return 0
		}
		return float64(onlineCount())
	})

	onlineCount func() int
)

// SetOnlineCounter wires the devices-online gauge to the tracker.
func SetOnlineCounter(fn func() int) {
	onlineCount = fn
}
