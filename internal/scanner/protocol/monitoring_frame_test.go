package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

func TestMonitoringFrame_RoundTrip(t *testing.T) {
	io := scanner.IOState{
		LogicalInputs: []scanner.PinState{InputPin(8, true), InputPin(12, false)},
		Outputs:       []scanner.PinState{OutputPin(5, true), OutputPin(3, false)},
	}
	want := MonitoringFrame{
		FromTheta:     0,
		Resolution:    275,
		ScanCounter:   1,
		ActiveZoneset: 2,
		Measurements:  []float64{0.1, 20, 25, 10, 1, 2, 3},
		Intensities:   []float64{1, 2, 3, 4, 5, 6, 7},
		IOState:       &io,
		Diagnostics:   []DiagnosticMessage{{ScannerID: 0, Code: 0x0010}},
	}

	got, err := ParseMonitoringFrame(want.Serialize())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitoringFrame_EmptyIsValid(t *testing.T) {
	got, err := ParseMonitoringFrame(MonitoringFrame{Resolution: 1, FromTheta: 10}.Serialize())
	require.NoError(t, err)
	assert.Empty(t, got.Measurements)
	assert.Nil(t, got.IOState)
	assert.Equal(t, scanner.TenthOfDegree(10), got.FromTheta)
}

func TestMonitoringFrame_NoSignal(t *testing.T) {
	f := MonitoringFrame{Resolution: 1, Measurements: []float64{math.Inf(1), 1.5}}
	got, err := ParseMonitoringFrame(f.Serialize())
	require.NoError(t, err)
	require.Len(t, got.Measurements, 2)
	assert.True(t, math.IsInf(got.Measurements[0], 1))
	assert.Equal(t, 1.5, got.Measurements[1])
}

func TestMonitoringFrame_IntensityFlagsMasked(t *testing.T) {
	data := MonitoringFrame{Resolution: 1, Measurements: []float64{1}}.Serialize()
	// Replace the end-of-frame marker with an intensity field carrying flag bits.
	data = data[:len(data)-FIELD_HEADER_SIZE]
	data = appendField(data, FIELD_INTENSITIES, binary.LittleEndian.AppendUint16(nil, 0xC000|123))
	data = appendField(data, FIELD_END_OF_FRAME, nil)

	got, err := ParseMonitoringFrame(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{123}, got.Intensities)
}

func TestMonitoringFrame_UnknownFieldSkipped(t *testing.T) {
	data := MonitoringFrame{Resolution: 1, Measurements: []float64{2}}.Serialize()
	data = data[:len(data)-FIELD_HEADER_SIZE]
	data = appendField(data, 0x7E, []byte{1, 2, 3})
	data = appendField(data, FIELD_END_OF_FRAME, nil)

	got, err := ParseMonitoringFrame(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got.Measurements)
}

func TestParseMonitoringFrame_Errors(t *testing.T) {
	good := MonitoringFrame{Resolution: 1, Measurements: []float64{1, 2}}.Serialize()

	wrongOpcode := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(wrongOpcode[4:8], uint32(OpcodeStart))

	zeroRes := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(zeroRes[19:21], 0)

	truncated := good[:len(good)-6]

	oddMeasurements := MonitoringFrame{Resolution: 1}.Serialize()[:FRAME_HEADER_SIZE]
	oddMeasurements = appendField(oddMeasurements, FIELD_MEASUREMENTS, []byte{1, 2, 3})

	intensityMismatch := MonitoringFrame{
		Resolution:   1,
		Measurements: []float64{1, 2, 3, 4, 5, 6, 7},
		Intensities:  []float64{1, 2},
	}.Serialize()

	tests := map[string][]byte{
		"intensity count":   intensityMismatch,
		"short header":      good[:10],
		"wrong opcode":      wrongOpcode,
		"zero resolution":   zeroRes,
		"truncated field":   truncated,
		"odd measurements":  oddMeasurements,
		"half field header": append(append([]byte(nil), good[:FRAME_HEADER_SIZE]...), FIELD_SCAN_COUNTER),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMonitoringFrame(data)
			assert.True(t, errors.Is(err, ErrDecode), "expected ErrDecode, got %v", err)
		})
	}
}

func TestParseMonitoringFrame_IntensitiesMatchMeasurements(t *testing.T) {
	f, err := ParseMonitoringFrame(MonitoringFrame{
		Resolution:   1,
		Measurements: []float64{1, 2, 3},
		Intensities:  []float64{10, 20, 30},
	}.Serialize())
	require.NoError(t, err)
	assert.Len(t, f.Intensities, len(f.Measurements))

	// A frame may carry measurements without intensities.
	f, err = ParseMonitoringFrame(MonitoringFrame{Resolution: 1, Measurements: []float64{1, 2, 3}}.Serialize())
	require.NoError(t, err)
	assert.Empty(t, f.Intensities)
}

func TestPinNames(t *testing.T) {
	assert.Equal(t, "MUTING_1", LogicalInputName(8))
	assert.Equal(t, "LOGICAL_INPUT_99", LogicalInputName(99))
	assert.Equal(t, "OSSD_1", OutputName(5))
	assert.Equal(t, "OUTPUT_42", OutputName(42))
	assert.Equal(t, "scanner 0: WINDOW_CLEANING_ALARM", DiagnosticMessage{Code: 0x0010}.String())
}
