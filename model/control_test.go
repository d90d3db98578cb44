package model

import (
	"testing"
)

func TestNewControlCommand(t *testing.T) {
	cmd, err := NewControlCommand(ActuatorFan, true)
	if err != nil {
		t.Fatalf("NewControlCommand: %v", err)
	}
	if cmd.Fan == nil || !*cmd.Fan {
		t.Error("fan should be set to true")
	}
	if cmd.Light != nil || cmd.Buzzer != nil {
		t.Error("only the requested actuator should be set")
	}

	if _, err := NewControlCommand("pump", true); err == nil {
		t.Error("expected error for unknown actuator")
	}
}

func TestControlCommandMarshal(t *testing.T) {
	// the device applies each present key independently, so unset actuators
	// must stay off the wire
	cmd, _ := NewControlCommand(ActuatorBuzzer, false)
	payload, err := cmd.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(payload) != `{"buzzer":false}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestControlCommandEmpty(t *testing.T) {
	if !(ControlCommand{}).Empty() {
		t.Error("zero command should be empty")
	}
	cmd, _ := NewControlCommand(ActuatorLight, true)
	if cmd.Empty() {
		t.Error("set command should not be empty")
	}
}

func TestValidActuator(t *testing.T) {
	for _, name := range []string{"fan", "light", "buzzer"} {
		if !ValidActuator(name) {
			t.Errorf("%s should be valid", name)
		}
	}
	if ValidActuator("fan2") {
		t.Error("fan2 should be invalid")
	}
}
