package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
)

// Manager normalizes raw sensor payloads into SensorReading values. Devices
// running current firmware publish the canonical JSON shape and pass straight
// through; older firmware can be adapted with a per-device-prefix JavaScript
// normalizer.
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer wraps one JavaScript normalizer.
type Transformer struct {
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
	// goja runtimes are not safe for concurrent use
	mu sync.Mutex
}

// NewManager loads the configured normalizer scripts. The map key is a
// device-id prefix; the longest matching prefix wins at normalize time.
func NewManager(configs map[string]config.TransformConfig) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
	}

	for prefix, cfg := range configs {
		scriptCode, err := loadScript(cfg)
		if err != nil {
			return nil, fmt.Errorf("normalizer for prefix %s: %v", prefix, err)
		}

		transformer, err := newTransformer(scriptCode, cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create normalizer for prefix %s: %v", prefix, err)
		}

		manager.transformers[prefix] = transformer
		logger.Info("loaded payload normalizer for device prefix %s", prefix)
	}

	return manager, nil
}

func loadScript(cfg config.TransformConfig) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath != "" {
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return "", fmt.Errorf("cannot load script file %s: %v", cfg.ScriptPath, err)
		}
		return string(scriptBytes), nil
	}
	return "", fmt.Errorf("no script code or script path provided")
}

// newTransformer builds a JavaScript runtime with the helper functions and
// checks that the script defines transform().
func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("parseJSON failed: %v", err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = time.RFC3339
		}
		return time.Unix(timestamp, 0).UTC().Format(format)
	})

	_ = vm.Set("convertTemperature", func(value float64, fromUnit string, toUnit string) float64 {
		fromUnit = strings.ToUpper(fromUnit)
		toUnit = strings.ToUpper(toUnit)

		var celsius float64
		switch fromUnit {
		case "C":
			celsius = value
		case "F":
			celsius = (value - 32) * 5 / 9
		case "K":
			celsius = value - 273.15
		default:
			return value
		}

		switch toUnit {
		case "C":
			return celsius
		case "F":
			return celsius*9/5 + 32
		case "K":
			return celsius + 273.15
		default:
			return celsius
		}
	})

	_ = vm.Set("clamp", func(value, min, max float64) float64 {
		if value < min {
			return min
		}
		if value > max {
			return max
		}
		return value
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("script execution failed: %v", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}

	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// Normalize turns a raw sensor payload into a SensorReading, running the
// matching normalizer script if one is configured.
func (m *Manager) Normalize(payload []byte) (model.SensorReading, error) {
	reading, parseErr := model.ParseReading(payload)

	// Legacy payloads carry the device id under "id"; probe for it so the
	// prefix match still finds the right script.
	deviceID := reading.DeviceID
	if deviceID == "" {
		var probe map[string]interface{}
		if json.Unmarshal(payload, &probe) == nil {
			if id, ok := probe["id"].(string); ok {
				deviceID = id
			}
		}
	}

	transformer := m.match(deviceID)
	if transformer == nil {
		if parseErr != nil {
			return model.SensorReading{}, parseErr
		}
		return reading, nil
	}

	transformer.mu.Lock()
	result, err := transformer.transform(goja.Undefined(), transformer.vm.ToValue(string(payload)))
	transformer.mu.Unlock()
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("normalizer script failed: %v", err)
	}

	jsonData, err := json.Marshal(result.Export())
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("failed to serialize script result: %v", err)
	}

	normalized, err := model.ParseReading(jsonData)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("script result is not a sensor reading: %v", err)
	}
	if normalized.DeviceID == "" {
		normalized.DeviceID = reading.DeviceID
	}
	return normalized, nil
}

// match returns the normalizer with the longest prefix matching deviceID, or
// nil when none applies.
func (m *Manager) match(deviceID string) *Transformer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var best *Transformer
	bestLen := -1
	for prefix, t := range m.transformers {
		if strings.HasPrefix(deviceID, prefix) && len(prefix) > bestLen {
			best = t
			bestLen = len(prefix)
		}
	}
	return best
}

// Reload replaces the normalizer for a device prefix.
func (m *Manager) Reload(prefix string, cfg config.TransformConfig) error {
	scriptCode, err := loadScript(cfg)
	if err != nil {
		return err
	}

	transformer, err := newTransformer(scriptCode, cfg.ScriptPath)
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %v", err)
	}

	m.mutex.Lock()
	m.transformers[prefix] = transformer
	m.mutex.Unlock()

	logger.Info("reloaded payload normalizer for device prefix %s", prefix)
	return nil
}
