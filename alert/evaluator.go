package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/classguard/monitor/config"
	"github.com/classguard/monitor/logger"
	"github.com/classguard/monitor/metrics"
	"github.com/classguard/monitor/model"
)

// condition binds one telemetry channel to a threshold and an actuator.
// Above conditions alert when the value exceeds the threshold; the light
// condition alerts when the room falls below it.
type condition struct {
	metric   string
	actuator string
	above    bool
}

var conditions = []condition{
	{"co2", model.ActuatorFan, true},
	{"temperature", model.ActuatorFan, true},
	{"humidity", model.ActuatorFan, true},
	{"noise", model.ActuatorBuzzer, true},
	{"light", model.ActuatorLight, false},
}

// Evaluator compares readings against the configured thresholds and decides
// actuator transitions. Raising needs debounce_samples consecutive violations;
// clearing needs the value back past the threshold widened by the hysteresis
// margin. Manual overrides pin an actuator until released.
type Evaluator struct {
	mu         sync.Mutex
	thresholds config.ThresholdConfig
	debounce   int
	hystPct    float64

	streaks   map[string]int  // device/metric -> consecutive violations
	active    map[string]bool // device/metric -> alert raised
	actuators map[string]*model.ActuatorState
	overrides map[string]bool // actuator -> manually pinned

	history    []model.Alert
	historyCap int
}

// NewEvaluator creates an evaluator with all actuators off and in auto mode.
func NewEvaluator(thresholds config.ThresholdConfig, alerting config.AlertingConfig) *Evaluator {
	e := &Evaluator{
		thresholds: thresholds,
		debounce:   alerting.DebounceSamples,
		hystPct:    alerting.HysteresisPct,
		streaks:    make(map[string]int),
		active:     make(map[string]bool),
		actuators:  make(map[string]*model.ActuatorState),
		overrides:  make(map[string]bool),
		historyCap: alerting.AlertHistory,
	}
	if e.historyCap < 1 {
		e.historyCap = 256
	}
	for _, name := range model.Actuators {
		e.actuators[name] = &model.ActuatorState{Name: name, Source: model.SourceAuto}
	}
	return e
}

func (e *Evaluator) threshold(metric string) float64 {
	switch metric {
	case "co2":
		return e.thresholds.CO2
	case "temperature":
		return e.thresholds.Temperature
	case "humidity":
		return e.thresholds.Humidity
	case "noise":
		return e.thresholds.Noise
	case "light":
		return e.thresholds.Lux
	}
	return 0
}

func metricValue(r model.SensorReading, metric string) float64 {
	switch metric {
	case "co2":
		return r.CO2
	case "temperature":
		return r.Temperature
	case "humidity":
		return r.Humidity
	case "noise":
		return r.Noise
	case "light":
		return r.Light
	}
	return 0
}

// Evaluate feeds one reading through every condition and returns the control
// commands needed to bring the actuators to their desired states.
func (e *Evaluator) Evaluate(r model.SensorReading) []model.ControlCommand {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range conditions {
		e.update(c, r)
	}
	return e.reconcile()
}

// update advances the raise/clear state machine for one condition.
func (e *Evaluator) update(c condition, r model.SensorReading) {
	key := r.DeviceID + "/" + c.metric
	value := metricValue(r, c.metric)
	th := e.threshold(c.metric)
	margin := th * e.hystPct / 100

	violating := value > th
	cleared := value <= th-margin
	if !c.above {
		violating = value < th
		cleared = value >= th+margin
	}

	if e.active[key] {
		if cleared {
			e.active[key] = false
			e.streaks[key] = 0
			e.record(r.DeviceID, c.metric, value, th, false)
			logger.Info("alert cleared: device=%s metric=%s value=%v threshold=%v", r.DeviceID, c.metric, value, th)
		}
		return
	}

	if violating {
		e.streaks[key]++
		if e.streaks[key] >= e.debounce {
			e.active[key] = true
			e.record(r.DeviceID, c.metric, value, th, true)
			metrics.AlertsRaised.WithLabelValues(c.metric).Inc()
			logger.Warn("alert raised: device=%s metric=%s value=%v threshold=%v", r.DeviceID, c.metric, value, th)
		}
	} else {
		e.streaks[key] = 0
	}
}

func (e *Evaluator) record(deviceID, metric string, value, threshold float64, raised bool) {
	e.history = append(e.history, model.Alert{
		DeviceID:  deviceID,
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Raised:    raised,
		At:        time.Now().UTC(),
	})
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}

// reconcile computes the desired state of every auto-mode actuator from the
// active alerts and returns commands for those that change.
func (e *Evaluator) reconcile() []model.ControlCommand {
	desired := make(map[string]bool, len(model.Actuators))
	for key, active := range e.active {
		if !active {
			continue
		}
		for _, c := range conditions {
			if keyMetric(key) == c.metric {
				desired[c.actuator] = true
			}
		}
	}

	var commands []model.ControlCommand
	for _, name := range model.Actuators {
		if e.overrides[name] {
			continue
		}
		state := e.actuators[name]
		want := desired[name]
		if state.On == want && !state.ChangedAt.IsZero() {
			continue
		}
		if state.On == want {
			// initial state already matches, nothing to publish
			state.ChangedAt = time.Now().UTC()
			continue
		}
		state.On = want
		state.Source = model.SourceAuto
		state.ChangedAt = time.Now().UTC()
		cmd, err := model.NewControlCommand(name, want)
		if err != nil {
			continue
		}
		commands = append(commands, cmd)
	}
	return commands
}

func keyMetric(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

// SetManual pins an actuator to the given state until Release is called.
func (e *Evaluator) SetManual(actuator string, on bool) (model.ControlCommand, error) {
	if !model.ValidActuator(actuator) {
		return model.ControlCommand{}, fmt.Errorf("unknown actuator: %s", actuator)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.overrides[actuator] = true
	state := e.actuators[actuator]
	state.On = on
	state.Source = model.SourceManual
	state.ChangedAt = time.Now().UTC()

	return model.NewControlCommand(actuator, on)
}

// Release returns an actuator to auto mode. The returned command reflects the
// recomputed desired state; changed reports whether it differs from the
// pinned state.
func (e *Evaluator) Release(actuator string) (model.ControlCommand, bool, error) {
	if !model.ValidActuator(actuator) {
		return model.ControlCommand{}, false, fmt.Errorf("unknown actuator: %s", actuator)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.overrides, actuator)

	want := false
	for key, active := range e.active {
		if !active {
			continue
		}
		for _, c := range conditions {
			if c.actuator == actuator && keyMetric(key) == c.metric {
				want = true
			}
		}
	}

	state := e.actuators[actuator]
	changed := state.On != want
	state.On = want
	state.Source = model.SourceAuto
	state.ChangedAt = time.Now().UTC()

	cmd, err := model.NewControlCommand(actuator, want)
	return cmd, changed, err
}

// Actuators returns a snapshot of the actuator states.
func (e *Evaluator) Actuators() []model.ActuatorState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.ActuatorState, 0, len(model.Actuators))
	for _, name := range model.Actuators {
		out = append(out, *e.actuators[name])
	}
	return out
}

// Alerts returns the recorded alert transitions, oldest first.
func (e *Evaluator) Alerts() []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Alert, len(e.history))
	copy(out, e.history)
	return out
}

// SetThresholds swaps the alerting bounds (config hot reload). Streaks reset
// so stale counts do not trigger against the new bounds.
func (e *Evaluator) SetThresholds(t config.ThresholdConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.thresholds = t
	e.streaks = make(map[string]int)
}
