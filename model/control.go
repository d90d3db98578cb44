package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actuator names as the device understands them.
const (
	ActuatorFan    = "fan"
	ActuatorLight  = "light"
	ActuatorBuzzer = "buzzer"
)

// Actuators lists the valid actuator names.
var Actuators = []string{ActuatorFan, ActuatorLight, ActuatorBuzzer}

// ValidActuator reports whether name is a device actuator.
func ValidActuator(name string) bool {
	for _, a := range Actuators {
		if a == name {
			return true
		}
	}
	return false
}

// ControlCommand is the payload published on the control topic. Only the set
// fields appear on the wire, matching the device firmware which applies each
// key independently.
type ControlCommand struct {
	Fan    *bool `json:"fan,omitempty"`
	Light  *bool `json:"light,omitempty"`
	Buzzer *bool `json:"buzzer,omitempty"`
}

// NewControlCommand builds a command for a single actuator.
func NewControlCommand(actuator string, state bool) (ControlCommand, error) {
	var cmd ControlCommand
	switch actuator {
	case ActuatorFan:
		cmd.Fan = &state
	case ActuatorLight:
		cmd.Light = &state
	case ActuatorBuzzer:
		cmd.Buzzer = &state
	default:
		return ControlCommand{}, fmt.Errorf("unknown actuator: %s", actuator)
	}
	return cmd, nil
}

// Empty reports whether the command sets no actuator.
func (c ControlCommand) Empty() bool {
	return c.Fan == nil && c.Light == nil && c.Buzzer == nil
}

// Marshal renders the command as the wire payload.
func (c ControlCommand) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// ControlSource records who last set an actuator.
type ControlSource string

const (
	// SourceAuto means the alert evaluator drives the actuator.
	SourceAuto ControlSource = "auto"
	// SourceManual means an operator pinned the actuator via the API.
	SourceManual ControlSource = "manual"
)

// ActuatorState is the current state of one actuator.
type ActuatorState struct {
	Name      string        `json:"name"`
	On        bool          `json:"on"`
	Source    ControlSource `json:"source"`
	ChangedAt time.Time     `json:"changed_at"`
}

// Alert records one threshold transition.
type Alert struct {
	DeviceID  string    `json:"device_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Raised    bool      `json:"raised"`
	At        time.Time `json:"at"`
}
