package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SensorReading is one telemetry sample published by a ClassGuard device on
// the sensor topic. Field names match the device firmware payload.
type SensorReading struct {
	DeviceID    string    `json:"device_id"`
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %
	CO2         float64   `json:"co2"`         // ppm
	Light       float64   `json:"light"`       // lux
	Noise       float64   `json:"noise"`       // dB
	AQI         float64   `json:"aqi"`
	ClassScore  int       `json:"class_score"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	ReceivedAt  time.Time `json:"received_at,omitempty"`
}

// ParseReading decodes a sensor payload. A missing timestamp is filled with
// the receive time.
func ParseReading(payload []byte) (SensorReading, error) {
	var r SensorReading
	if err := json.Unmarshal(payload, &r); err != nil {
		return SensorReading{}, fmt.Errorf("invalid sensor payload: %v", err)
	}
	now := time.Now().UTC()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	r.ReceivedAt = now
	return r, nil
}

// Validate checks the reading for a device id and physically plausible
// channel values.
func (r *SensorReading) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("reading has no device_id")
	}
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"temperature", r.Temperature, -40, 125},
		{"humidity", r.Humidity, 0, 100},
		{"co2", r.CO2, 0, 10000},
		{"light", r.Light, 0, 200000},
		{"noise", r.Noise, 0, 150},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return fmt.Errorf("%s is not a finite number", c.name)
		}
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("%s value %v outside plausible range [%v, %v]", c.name, c.value, c.min, c.max)
		}
	}
	return nil
}
