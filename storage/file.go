package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
)

// FileStorage writes each reading as a JSON file under basePath/<device_id>/.
type FileStorage struct {
	basePath string
}

// NewFileStorage creates the base directory if needed.
func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %v", basePath, err)
	}

	logger.Info("init file storage: %s", basePath)
	return &FileStorage{
		basePath: basePath,
	}, nil
}

// Name implements Backend.
func (fs *FileStorage) Name() string { return "file" }

// Store saves the reading to a timestamped file.
func (fs *FileStorage) Store(reading model.SensorReading) error {
	deviceDir := filepath.Join(fs.basePath, reading.DeviceID)
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %v", deviceDir, err)
	}

	jsonData, err := json.MarshalIndent(reading, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize reading failed: %v", err)
	}

	// Two readings can land in the same millisecond; O_EXCL plus a sequence
	// suffix keeps the earlier file from being overwritten.
	timestamp := reading.ReceivedAt.Format("20060102-150405.000")
	filename := filepath.Join(deviceDir, fmt.Sprintf("%s.json", timestamp))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	for seq := 1; errors.Is(err, os.ErrExist); seq++ {
		filename = filepath.Join(deviceDir, fmt.Sprintf("%s-%d.json", timestamp, seq))
		file, err = os.OpenFile(filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	}
	if err != nil {
		return fmt.Errorf("create file %s failed: %v", filename, err)
	}

	if _, err := file.Write(jsonData); err != nil {
		file.Close()
		return fmt.Errorf("write file %s failed: %v", filename, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close file %s failed: %v", filename, err)
	}

	logger.Debug("stored reading to file: %s", filename)
	return nil
}

// Close implements Backend.
func (fs *FileStorage) Close() error {
	return nil
}
