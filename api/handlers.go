package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/model"
	"github.com/classguard/monitor/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLatest returns the most recent reading of every online device.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		reading, ok := s.tracker.Latest(deviceID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no recent data for device %s", deviceID))
			return
		}
		writeJSON(w, http.StatusOK, reading)
		return
	}

	readings := make([]model.SensorReading, 0)
	for _, d := range s.tracker.Devices() {
		if d.Online {
			readings = append(readings, d.LastReading)
		}
	}
	writeJSON(w, http.StatusOK, readings)
}

// historyWindow resolves the limit/date query parameters into a query.
func historyWindow(r *http.Request) (storage.HistoryQuery, error) {
	q := storage.HistoryQuery{
		From:  time.Now().UTC().Add(-24 * time.Hour),
		To:    time.Now().UTC().Add(time.Minute),
		Limit: 50,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = limit
	}

	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return q, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
		}
		q.From = day
		q.To = day.Add(24 * time.Hour)
	}

	return q, nil
}

// handleHistory serves stored readings from the SQL backend.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	querier, ok := s.storage.Querier()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no queryable storage backend configured")
		return
	}

	q, err := historyWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := querier.History(q)
	if err != nil {
		logger.Error("history query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if readings == nil {
		readings = []model.SensorReading{}
	}

	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Devices())
}

func (s *Server) handleActuators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.evaluator.Actuators())
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.evaluator.Alerts()
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// controlRequest is the /api/control body, matching the dashboard payload.
type controlRequest struct {
	Device string `json:"device"`
	State  bool   `json:"state"`
}

// handleControl pins an actuator to a manual state and sends the command to
// the device.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !model.ValidActuator(req.Device) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid device %q", req.Device))
		return
	}

	cmd, err := s.evaluator.SetManual(req.Device, req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.publisher.PublishControl(cmd, model.SourceManual); err != nil {
		logger.Error("failed to publish manual control: %v", err)
		writeError(w, http.StatusBadGateway, "failed to reach device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		req.Device: req.State,
	})
}

// handleRelease returns an actuator to automatic control.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	actuator := mux.Vars(r)["actuator"]

	cmd, changed, err := s.evaluator.Release(actuator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if changed {
		if err := s.publisher.PublishControl(cmd, model.SourceAuto); err != nil {
			logger.Error("failed to publish release command: %v", err)
			writeError(w, http.StatusBadGateway, "failed to reach device")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"actuator": actuator,
		"source":   model.SourceAuto,
	})
}

// handleExportCSV streams the last 24 hours of readings as CSV.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	querier, ok := s.storage.Querier()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no queryable storage backend configured")
		return
	}

	readings, err := querier.History(storage.HistoryQuery{
		From:  time.Now().UTC().Add(-24 * time.Hour),
		To:    time.Now().UTC().Add(time.Minute),
		Limit: 1000,
	})
	if err != nil {
		logger.Error("export query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "export query failed")
		return
	}

	filename := fmt.Sprintf("classguard_report_%s.csv", time.Now().Format("20060102_1504"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"time", "device_id", "temperature", "humidity", "co2", "light", "noise", "aqi", "class_score", "status"})
	for _, rd := range readings {
		_ = cw.Write([]string{
			rd.Timestamp.Format(time.RFC3339),
			rd.DeviceID,
			strconv.FormatFloat(rd.Temperature, 'f', 1, 64),
			strconv.FormatFloat(rd.Humidity, 'f', 1, 64),
			strconv.FormatFloat(rd.CO2, 'f', 0, 64),
			strconv.FormatFloat(rd.Light, 'f', 0, 64),
			strconv.FormatFloat(rd.Noise, 'f', 1, 64),
			strconv.FormatFloat(rd.AQI, 'f', 1, 64),
			strconv.Itoa(rd.ClassScore),
			rd.Status,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.Error("failed to write csv export: %v", err)
	}
}

// handleUsers lists the configured users without their password hashes.
func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	type userInfo struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}

	users := make([]userInfo, 0, len(s.cfg.Auth.Users))
	for _, u := range s.cfg.Auth.Users {
		users = append(users, userInfo{Username: u.Username, Role: u.Role})
	}
	writeJSON(w, http.StatusOK, users)
}
