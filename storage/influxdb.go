package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
)

// InfluxStorage writes readings as points in an InfluxDB bucket, one field
// per telemetry channel and the device id as a tag.
type InfluxStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInfluxStorage connects to InfluxDB and verifies the server is reachable.
func NewInfluxStorage(cfg config.InfluxStorageConfig) (*InfluxStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %v", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "classguard"
	}

	logger.Info("influxdb storage initialized: %s bucket=%s", cfg.URL, bucket)
	return &InfluxStorage{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, bucket),
		bucket:   bucket,
	}, nil
}

// Name implements Backend.
func (is *InfluxStorage) Name() string { return "influxdb" }

// Store writes one reading as a sensor_data point.
func (is *InfluxStorage) Store(reading model.SensorReading) error {
	p := influxdb2.NewPoint(
		"sensor_data",
		map[string]string{"device_id": reading.DeviceID},
		map[string]interface{}{
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"co2":         reading.CO2,
			"light":       reading.Light,
			"noise":       reading.Noise,
			"aqi":         reading.AQI,
			"class_score": reading.ClassScore,
		},
		reading.Timestamp,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := is.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}

	logger.Debug("stored reading from %s in influxdb bucket %s", reading.DeviceID, is.bucket)
	return nil
}

// Close implements Backend.
func (is *InfluxStorage) Close() error {
	is.client.Close()
	return nil
}
