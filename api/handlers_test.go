package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/classguard/monitor/alert"
	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/device"
	"github.com/classguard/monitor/model"
	"github.com/classguard/monitor/storage"
)

// fakePublisher records published control commands.
type fakePublisher struct {
	commands []model.ControlCommand
	sources  []model.ControlSource
	fail     bool
}

func (f *fakePublisher) PublishControl(cmd model.ControlCommand, source model.ControlSource) error {
	if f.fail {
		return fmt.Errorf("broker unreachable")
	}
	f.commands = append(f.commands, cmd)
	f.sources = append(f.sources, source)
	return nil
}

// fakeStore serves canned readings through the storage Querier interface.
type fakeStore struct {
	readings []model.SensorReading
}

func (f *fakeStore) Name() string                         { return "fake" }
func (f *fakeStore) Store(r model.SensorReading) error    { return nil }
func (f *fakeStore) Close() error                         { return nil }
func (f *fakeStore) Latest() (model.SensorReading, error) { return f.readings[0], nil }
func (f *fakeStore) History(q storage.HistoryQuery) ([]model.SensorReading, error) {
	return f.readings, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Broker: "broker.hivemq.com", Port: 1883, ClientIDPrefix: "T_",
			SensorTopic: "classguard/sensors", ControlTopic: "classguard/control",
		},
		Thresholds: config.ThresholdConfig{CO2: 1000, Lux: 300, Temperature: 35, Humidity: 80, Noise: 70},
		Alerting:   config.AlertingConfig{DebounceSamples: 1, HysteresisPct: 5},
		HTTP:       config.HTTPConfig{Addr: ":0"},
	}
}

type fixture struct {
	server    *Server
	publisher *fakePublisher
	tracker   *device.Tracker
	storage   *storage.Manager
	handler   http.Handler
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	evaluator := alert.NewEvaluator(cfg.Thresholds, cfg.Alerting)
	tracker := device.NewTracker(time.Minute)
	t.Cleanup(tracker.Stop)

	storageManager := &storage.Manager{}
	publisher := &fakePublisher{}
	server := NewServer(cfg, evaluator, tracker, storageManager, publisher)

	return &fixture{
		server:    server,
		publisher: publisher,
		tracker:   tracker,
		storage:   storageManager,
		handler:   server.Handler(),
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := doJSON(t, f.handler, "GET", "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLatest(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := doJSON(t, f.handler, "GET", "/api/sensors/latest", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var readings []model.SensorReading
	if err := json.Unmarshal(rec.Body.Bytes(), &readings); err != nil {
		t.Fatal(err)
	}
	if len(readings) != 0 {
		t.Errorf("expected no readings, got %d", len(readings))
	}

	f.tracker.Observe(model.SensorReading{DeviceID: "dev1", CO2: 800, ReceivedAt: time.Now().UTC()})

	rec = doJSON(t, f.handler, "GET", "/api/sensors/latest", nil, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &readings); err != nil {
		t.Fatal(err)
	}
	if len(readings) != 1 || readings[0].CO2 != 800 {
		t.Errorf("readings = %+v", readings)
	}

	rec = doJSON(t, f.handler, "GET", "/api/sensors/latest?device_id=dev1", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("by-device status = %d", rec.Code)
	}
	rec = doJSON(t, f.handler, "GET", "/api/sensors/latest?device_id=ghost", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d", rec.Code)
	}
}

func TestHistoryWithoutQuerier(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := doJSON(t, f.handler, "GET", "/api/sensors/history", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, testConfig())
	f.storage.AddBackend(&fakeStore{readings: []model.SensorReading{
		{DeviceID: "dev1", CO2: 750, Timestamp: time.Now().UTC()},
	}})

	rec := doJSON(t, f.handler, "GET", "/api/sensors/history?limit=10", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var readings []model.SensorReading
	if err := json.Unmarshal(rec.Body.Bytes(), &readings); err != nil {
		t.Fatal(err)
	}
	if len(readings) != 1 {
		t.Errorf("readings = %+v", readings)
	}

	rec = doJSON(t, f.handler, "GET", "/api/sensors/history?limit=bogus", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	rec = doJSON(t, f.handler, "GET", "/api/sensors/history?date=24-08-2026", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}
	rec = doJSON(t, f.handler, "GET", "/api/sensors/history?date=2026-08-24", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("date filter status = %d", rec.Code)
	}
}

func TestControl(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "fan", "state": true}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(f.publisher.commands) != 1 {
		t.Fatalf("published %d commands", len(f.publisher.commands))
	}
	cmd := f.publisher.commands[0]
	if cmd.Fan == nil || !*cmd.Fan {
		t.Errorf("command = %+v", cmd)
	}
	if f.publisher.sources[0] != model.SourceManual {
		t.Errorf("source = %v", f.publisher.sources[0])
	}

	rec = doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "pump", "state": true}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid device status = %d", rec.Code)
	}
}

func TestControlPublishFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publisher.fail = true

	rec := doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "fan", "state": true}, "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t, testConfig())

	doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "light", "state": true}, "")

	rec := doJSON(t, f.handler, "DELETE", "/api/control/light", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// pinned on, no active alert: release publishes light off
	if len(f.publisher.commands) != 2 {
		t.Fatalf("published %d commands", len(f.publisher.commands))
	}
	last := f.publisher.commands[1]
	if last.Light == nil || *last.Light {
		t.Errorf("release command = %+v", last)
	}

	rec = doJSON(t, f.handler, "DELETE", "/api/control/pump", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid actuator status = %d", rec.Code)
	}
}

func TestActuators(t *testing.T) {
	f := newFixture(t, testConfig())
	rec := doJSON(t, f.handler, "GET", "/api/actuators", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var states []model.ActuatorState
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 3 {
		t.Errorf("expected 3 actuators, got %d", len(states))
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, testConfig())
	f.storage.AddBackend(&fakeStore{readings: []model.SensorReading{
		{DeviceID: "dev1", Temperature: 26.5, CO2: 750, Timestamp: time.Now().UTC()},
	}})

	rec := doJSON(t, f.handler, "GET", "/api/export/csv", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "time,device_id,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "dev1") {
		t.Errorf("row = %q", lines[1])
	}
}

func authConfig(t *testing.T) *config.Config {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []config.UserConfig{
			{Username: "admin", PasswordHash: string(hash), Role: "admin"},
			{Username: "viewer", PasswordHash: string(hash), Role: "viewer"},
		},
	}
	return cfg
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, handler, "POST", "/api/login", map[string]string{
		"username": username, "password": password,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp["token"]
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, authConfig(t))

	rec := doJSON(t, f.handler, "GET", "/api/sensors/latest", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}

	rec = doJSON(t, f.handler, "GET", "/api/sensors/latest", nil, "garbage")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}

	token := login(t, f.handler, "viewer", "secret123")
	rec = doJSON(t, f.handler, "GET", "/api/sensors/latest", nil, token)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, authConfig(t))

	rec := doJSON(t, f.handler, "POST", "/api/login", map[string]string{
		"username": "admin", "password": "wrong",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", rec.Code)
	}

	rec = doJSON(t, f.handler, "POST", "/api/login", map[string]string{
		"username": "ghost", "password": "secret123",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d", rec.Code)
	}
}

func TestControlRequiresAdmin(t *testing.T) {
	f := newFixture(t, authConfig(t))

	viewerToken := login(t, f.handler, "viewer", "secret123")
	rec := doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "fan", "state": true}, viewerToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer control status = %d", rec.Code)
	}

	adminToken := login(t, f.handler, "admin", "secret123")
	rec = doJSON(t, f.handler, "POST", "/api/control", map[string]interface{}{"device": "fan", "state": true}, adminToken)
	if rec.Code != http.StatusOK {
		t.Errorf("admin control status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUsersEndpoint(t *testing.T) {
	f := newFixture(t, authConfig(t))

	adminToken := login(t, f.handler, "admin", "secret123")
	rec := doJSON(t, f.handler, "GET", "/api/users", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("user listing must not leak password hashes")
	}

	viewerToken := login(t, f.handler, "viewer", "secret123")
	rec = doJSON(t, f.handler, "GET", "/api/users", nil, viewerToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer users status = %d", rec.Code)
	}
}
