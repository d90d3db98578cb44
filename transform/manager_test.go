package transform

import (
	"testing"

	"github.com/classguard/monitor/config"
)

const legacyScript = `
function transform(payload) {
	var data = parseJSON(payload);
	return {
		device_id: data.id,
		temperature: convertTemperature(data.temp_f, "F", "C"),
		humidity: clamp(data.hum, 0, 100),
		co2: data.co2_ppm,
		light: data.lux,
		noise: data.db
	};
}
`

func TestNormalizePassthrough(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	payload := []byte(`{"device_id":"ESP32_CLASSGUARD_01","temperature":26,"humidity":60,"co2":700,"light":400,"noise":50}`)
	r, err := m.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.DeviceID != "ESP32_CLASSGUARD_01" || r.CO2 != 700 {
		t.Errorf("reading = %+v", r)
	}
}

func TestNormalizePassthroughInvalid(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Normalize([]byte("not json")); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestNormalizeWithScript(t *testing.T) {
	m, err := NewManager(map[string]config.TransformConfig{
		"ESP32_CG_V1_": {ScriptCode: legacyScript},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	payload := []byte(`{"id":"ESP32_CG_V1_07","temp_f":98.6,"hum":120,"co2_ppm":800,"lux":350,"db":48}`)
	r, err := m.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if r.DeviceID != "ESP32_CG_V1_07" {
		t.Errorf("device id = %q", r.DeviceID)
	}
	if r.Temperature < 36.9 || r.Temperature > 37.1 {
		t.Errorf("temperature = %v, want ~37", r.Temperature)
	}
	if r.Humidity != 100 {
		t.Errorf("humidity should be clamped to 100, got %v", r.Humidity)
	}
	if r.CO2 != 800 {
		t.Errorf("co2 = %v", r.CO2)
	}
}

func TestNormalizeScriptNotMatching(t *testing.T) {
	m, err := NewManager(map[string]config.TransformConfig{
		"ESP32_CG_V1_": {ScriptCode: legacyScript},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	// current firmware payload passes straight through
	payload := []byte(`{"device_id":"ESP32_CLASSGUARD_01","temperature":26,"co2":700}`)
	r, err := m.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Temperature != 26 {
		t.Errorf("temperature = %v", r.Temperature)
	}
}

func TestNewManagerBadScript(t *testing.T) {
	_, err := NewManager(map[string]config.TransformConfig{
		"X_": {ScriptCode: "function transform(p) { return"},
	})
	if err == nil {
		t.Error("expected error for broken script")
	}

	_, err = NewManager(map[string]config.TransformConfig{
		"X_": {ScriptCode: "var notAFunction = 1;"},
	})
	if err == nil {
		t.Error("expected error for missing transform function")
	}

	_, err = NewManager(map[string]config.TransformConfig{
		"X_": {},
	})
	if err == nil {
		t.Error("expected error for empty transformer config")
	}
}

func TestReload(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Reload("ESP32_CG_V1_", config.TransformConfig{ScriptCode: legacyScript}); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	payload := []byte(`{"id":"ESP32_CG_V1_01","temp_f":32,"hum":50,"co2_ppm":600,"lux":400,"db":45}`)
	r, err := m.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Temperature != 0 {
		t.Errorf("32°F should normalize to 0°C, got %v", r.Temperature)
	}

	if err := m.Reload("ESP32_CG_V1_", config.TransformConfig{}); err == nil {
		t.Error("expected error reloading with empty config")
	}
}
