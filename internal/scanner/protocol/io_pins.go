package protocol

import (
	"fmt"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// Logical input pin ids.
const (
	INPUT_ZONE_SET_SWITCH_1 uint32 = iota
	INPUT_ZONE_SET_SWITCH_2
	INPUT_ZONE_SET_SWITCH_3
	INPUT_ZONE_SET_SWITCH_4
	INPUT_ZONE_SET_SWITCH_5
	INPUT_ZONE_SET_SWITCH_6
	INPUT_ZONE_SET_SWITCH_7
	INPUT_ZONE_SET_SWITCH_8
	INPUT_MUTING_1_ACTIVE
	INPUT_MUTING_2_ACTIVE
	INPUT_OVERRIDE_1_ACTIVE
	INPUT_OVERRIDE_2_ACTIVE
	INPUT_RESET_ACTIVATED
	INPUT_RESTART_INTERLOCK
)

// Output pin ids.
const (
	OUTPUT_SAFETY_1_INTRUSION uint32 = iota
	OUTPUT_SAFETY_2_INTRUSION
	OUTPUT_SAFETY_3_INTRUSION
	OUTPUT_WARNING_1_INTRUSION
	OUTPUT_WARNING_2_INTRUSION
	OUTPUT_OSSD_1
	OUTPUT_OSSD_2
	OUTPUT_RESTART_REQUIRED
)

var logicalInputNames = map[uint32]string{
	INPUT_ZONE_SET_SWITCH_1: "ZONE_SET_SWITCH_1",
	INPUT_ZONE_SET_SWITCH_2: "ZONE_SET_SWITCH_2",
	INPUT_ZONE_SET_SWITCH_3: "ZONE_SET_SWITCH_3",
	INPUT_ZONE_SET_SWITCH_4: "ZONE_SET_SWITCH_4",
	INPUT_ZONE_SET_SWITCH_5: "ZONE_SET_SWITCH_5",
	INPUT_ZONE_SET_SWITCH_6: "ZONE_SET_SWITCH_6",
	INPUT_ZONE_SET_SWITCH_7: "ZONE_SET_SWITCH_7",
	INPUT_ZONE_SET_SWITCH_8: "ZONE_SET_SWITCH_8",
	INPUT_MUTING_1_ACTIVE:   "MUTING_1",
	INPUT_MUTING_2_ACTIVE:   "MUTING_2",
	INPUT_OVERRIDE_1_ACTIVE: "OVERRIDE_1",
	INPUT_OVERRIDE_2_ACTIVE: "OVERRIDE_2",
	INPUT_RESET_ACTIVATED:   "RESET",
	INPUT_RESTART_INTERLOCK: "RESTART_INTERLOCK",
}

var outputNames = map[uint32]string{
	OUTPUT_SAFETY_1_INTRUSION:  "SAFETY_1_INTRUSION",
	OUTPUT_SAFETY_2_INTRUSION:  "SAFETY_2_INTRUSION",
	OUTPUT_SAFETY_3_INTRUSION:  "SAFETY_3_INTRUSION",
	OUTPUT_WARNING_1_INTRUSION: "WARNING_1_INTRUSION",
	OUTPUT_WARNING_2_INTRUSION: "WARNING_2_INTRUSION",
	OUTPUT_OSSD_1:              "OSSD_1",
	OUTPUT_OSSD_2:              "OSSD_2",
	OUTPUT_RESTART_REQUIRED:    "RESTART_REQUIRED",
}

// LogicalInputName returns the device's name for a logical input pin.
func LogicalInputName(id uint32) string {
	if n, ok := logicalInputNames[id]; ok {
		return n
	}
	return fmt.Sprintf("LOGICAL_INPUT_%d", id)
}

// OutputName returns the device's name for an output pin.
func OutputName(id uint32) string {
	if n, ok := outputNames[id]; ok {
		return n
	}
	return fmt.Sprintf("OUTPUT_%d", id)
}

// InputPin and OutputPin build a PinState carrying the device's pin name.
func InputPin(id uint32, state bool) scanner.PinState {
	return scanner.PinState{ID: id, Name: LogicalInputName(id), State: state}
}

func OutputPin(id uint32, state bool) scanner.PinState {
	return scanner.PinState{ID: id, Name: OutputName(id), State: state}
}

// DiagnosticMessage is one entry of the diagnostics field.
type DiagnosticMessage struct {
	ScannerID uint8
	Code      uint16
}

var diagnosticNames = map[uint16]string{
	0x0001: "OSSD_SHORT_CIRCUIT",
	0x0002: "OSSD_OVERCURRENT",
	0x0010: "WINDOW_CLEANING_ALARM",
	0x0011: "WINDOW_CLEANING_WARNING",
	0x0020: "POWER_SUPPLY_FAULT",
	0x0030: "ENCODER_FAULT",
	0x0040: "TEMPERATURE_RANGE",
}

func (d DiagnosticMessage) String() string {
	if n, ok := diagnosticNames[d.Code]; ok {
		return fmt.Sprintf("scanner %d: %s", d.ScannerID, n)
	}
	return fmt.Sprintf("scanner %d: code 0x%04x", d.ScannerID, d.Code)
}
