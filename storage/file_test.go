package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/classguard/monitor/model"
)

func testReading() model.SensorReading {
	return model.SensorReading{
		DeviceID:    "ESP32_CLASSGUARD_01",
		Temperature: 26.5,
		Humidity:    58,
		CO2:         720,
		Light:       420,
		Noise:       52,
		Timestamp:   time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		ReceivedAt:  time.Date(2026, 8, 24, 10, 0, 1, 0, time.UTC),
	}
}

func TestFileStorageStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	reading := testReading()
	if err := fs.Store(reading); err != nil {
		t.Fatalf("Store: %v", err)
	}

	deviceDir := filepath.Join(dir, reading.DeviceID)
	entries, err := os.ReadDir(deviceDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(deviceDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	var stored model.SensorReading
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("stored file is not valid JSON: %v", err)
	}
	if stored.DeviceID != reading.DeviceID || stored.CO2 != reading.CO2 {
		t.Errorf("stored reading = %+v", stored)
	}
}

func TestFileStorageStoreSameTimestamp(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	first := testReading()
	second := testReading()
	second.CO2 = 999

	if err := fs.Store(first); err != nil {
		t.Fatalf("Store first: %v", err)
	}
	if err := fs.Store(second); err != nil {
		t.Fatalf("Store second: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, first.DeviceID))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("same-millisecond readings must not overwrite, got %d files", len(entries))
	}
}

func TestNewFileStorageBadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStorage(filepath.Join(file, "sub")); err == nil {
		t.Error("expected error when base path cannot be created")
	}
}
