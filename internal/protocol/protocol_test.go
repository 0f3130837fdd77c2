package protocol

import (
	"testing"

	"github.com/manpreetbhatti/easel/internal/stroke"
)

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("Expected error for envelope without type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEnvelopePayload(t *testing.T) {
	data := MustEncode(TypeJoinRoom, JoinRoom{RoomID: "r1", UserName: "ana", Color: "#fff"})

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if env.Type != TypeJoinRoom {
		t.Errorf("Expected type %q, got %q", TypeJoinRoom, env.Type)
	}

	var join JoinRoom
	if err := env.Payload(&join); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if join.RoomID != "r1" || join.UserName != "ana" {
		t.Errorf("Unexpected payload: %+v", join)
	}
}

func TestEmptyPayload(t *testing.T) {
	env, err := Decode(MustEncode(TypeUndo, nil))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	var undo Undo
	if err := env.Payload(&undo); err != nil {
		t.Errorf("Empty payload should decode cleanly: %v", err)
	}
}

func TestDrawOpValidate(t *testing.T) {
	s := &stroke.Stroke{ID: "s1", Kind: stroke.Brush, Width: 3}

	tests := []struct {
		name    string
		op      DrawOp
		wantErr bool
	}{
		{"start with stroke", DrawOp{Type: DrawStart, Stroke: s}, false},
		{"end with stroke", DrawOp{Type: DrawEnd, Stroke: s}, false},
		{"end without stroke", DrawOp{Type: DrawEnd}, true},
		{"point", DrawOp{Type: DrawPoint, StrokeID: "s1", Point: &stroke.Point{X: 1, Y: 1}}, false},
		{"point without point", DrawOp{Type: DrawPoint, StrokeID: "s1"}, true},
		{"unknown type", DrawOp{Type: "draw-sideways", Stroke: s}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDurableTypes(t *testing.T) {
	if !DrawEnd.Durable() || !DrawFull.Durable() {
		t.Error("draw-end and draw-full should be durable")
	}
	if DrawStart.Durable() || DrawPoint.Durable() {
		t.Error("draw-start and draw-point are live only")
	}
}

func TestDrawOpCloneDeep(t *testing.T) {
	op := &DrawOp{
		Type:   DrawEnd,
		Stroke: &stroke.Stroke{ID: "s", Kind: stroke.Brush, Points: []stroke.Point{{X: 1, Y: 1}}},
	}
	c := op.Clone()
	c.Stroke.Points[0].X = 99
	c.Undone = true

	if op.Stroke.Points[0].X != 1 || op.Undone {
		t.Error("Clone should not share state with the original")
	}
}
