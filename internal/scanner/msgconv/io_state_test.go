package msgconv

import (
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/protocol"
)

func TestToIOStateMsg(t *testing.T) {
	io := scanner.IOState{
		LogicalInputs: []scanner.PinState{
			{ID: protocol.INPUT_MUTING_1_ACTIVE, Name: "logical_input1", State: true},
			{ID: protocol.INPUT_RESET_ACTIVATED, Name: "logical_input2", State: false},
		},
		Outputs: []scanner.PinState{
			{ID: protocol.OUTPUT_SAFETY_1_INTRUSION, Name: "output1", State: true},
			{ID: protocol.OUTPUT_WARNING_1_INTRUSION, Name: "output2", State: false},
		},
	}

	msg, err := ToIOStateMsg(io, "some_frame", 10)
	if err != nil {
		t.Fatalf("ToIOStateMsg failed: %v", err)
	}
	if got := msg.Header.Stamp.AsTime().UnixNano(); got != 10 {
		t.Errorf("expected stamp 10ns, got %d", got)
	}
	if msg.Header.FrameID != "some_frame" {
		t.Errorf("expected frame id some_frame, got %q", msg.Header.FrameID)
	}

	wantInputs := []InputPinStateMsg{
		{PinID: protocol.INPUT_MUTING_1_ACTIVE, Name: "logical_input1", State: true},
		{PinID: protocol.INPUT_RESET_ACTIVATED, Name: "logical_input2", State: false},
	}
	if len(msg.LogicalInput) != len(wantInputs) {
		t.Fatalf("expected %d inputs, got %d", len(wantInputs), len(msg.LogicalInput))
	}
	for i, want := range wantInputs {
		if msg.LogicalInput[i] != want {
			t.Errorf("input %d: expected %+v, got %+v", i, want, msg.LogicalInput[i])
		}
	}

	wantOutputs := []OutputPinStateMsg{
		{PinID: protocol.OUTPUT_SAFETY_1_INTRUSION, Name: "output1", State: true},
		{PinID: protocol.OUTPUT_WARNING_1_INTRUSION, Name: "output2", State: false},
	}
	if len(msg.Output) != len(wantOutputs) {
		t.Fatalf("expected %d outputs, got %d", len(wantOutputs), len(msg.Output))
	}
	for i, want := range wantOutputs {
		if msg.Output[i] != want {
			t.Errorf("output %d: expected %+v, got %+v", i, want, msg.Output[i])
		}
	}
}

func TestToIOStateMsg_NegativeStamp(t *testing.T) {
	_, err := ToIOStateMsg(scanner.IOState{}, "some_frame", -10)
	if err == nil {
		t.Fatal("expected error for negative stamp")
	}
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument error, got code %v", code)
	}
	if want := "Laserscan message has an invalid timestamp: -10"; status.Convert(err).Message() != want {
		t.Errorf("expected message %q, got %q", want, status.Convert(err).Message())
	}
}

func TestToIOStateMsg_Empty(t *testing.T) {
	for name, io := range map[string]scanner.IOState{
		"zero value":   {},
		"empty slices": {LogicalInputs: []scanner.PinState{}, Outputs: []scanner.PinState{}},
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := ToIOStateMsg(io, "some_frame", 10)
			if err != nil {
				t.Fatalf("ToIOStateMsg failed: %v", err)
			}
			if len(msg.LogicalInput) != 0 || len(msg.Output) != 0 {
				t.Errorf("expected no pins, got %d inputs and %d outputs", len(msg.LogicalInput), len(msg.Output))
			}
		})
	}
}

func TestToLaserScanMsg(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	scan := scanner.LaserScan{
		AngleMin:    0,
		AngleMax:    550,
		Resolution:  275,
		Timestamp:   ts,
		Ranges:      []float64{0.1, 20, 25},
		Intensities: []float64{1, 2, 3},
	}

	msg, err := ToLaserScanMsg(scan, "scanner")
	if err != nil {
		t.Fatalf("ToLaserScanMsg failed: %v", err)
	}
	if got := msg.Header.Stamp.AsTime(); !got.Equal(ts) {
		t.Errorf("expected stamp %v, got %v", ts, got)
	}
	if msg.AngleMax != scanner.TenthOfDegree(550).Radians() {
		t.Errorf("unexpected angle max %v", msg.AngleMax)
	}
	if msg.AngleIncrement != scanner.TenthOfDegree(275).Radians() {
		t.Errorf("unexpected angle increment %v", msg.AngleIncrement)
	}
	if len(msg.Ranges) != 3 || len(msg.Intensities) != 3 {
		t.Fatalf("expected 3 ranges and intensities, got %d and %d", len(msg.Ranges), len(msg.Intensities))
	}

	scan.Ranges[0] = 99
	if msg.Ranges[0] != 0.1 {
		t.Error("message must not alias the scan's ranges")
	}
}

func TestToLaserScanMsg_NoTimestamp(t *testing.T) {
	_, err := ToLaserScanMsg(scanner.LaserScan{Ranges: []float64{1}}, "scanner")
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument error, got code %v", code)
	}
}
