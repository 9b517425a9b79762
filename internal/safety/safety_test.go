package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thinkabit/questy/internal/log"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantUnsafe bool
		wantReply  string
		wantErr    bool
	}{
		{
			name:      "safe verdict",
			raw:       `{"is_unsafe_for_k_12_children": false, "response": "Photosynthesis is how plants make food."}`,
			wantReply: "Photosynthesis is how plants make food.",
		},
		{
			name:       "unsafe verdict",
			raw:        `{"is_unsafe_for_k_12_children": true, "response": "I can't help with that, but I'd love to help with something else!"}`,
			wantUnsafe: true,
			wantReply:  "I can't help with that, but I'd love to help with something else!",
		},
		{
			name:      "fenced json",
			raw:       "```json\n{\"is_unsafe_for_k_12_children\": false, \"response\": \"Sure!\"}\n```",
			wantReply: "Sure!",
		},
		{
			name:      "bare fence",
			raw:       "```\n{\"is_unsafe_for_k_12_children\": false, \"response\": \"Sure!\"}\n```",
			wantReply: "Sure!",
		},
		{
			name:    "plain text",
			raw:     "The mitochondria is the powerhouse of the cell.",
			wantErr: true,
		},
		{
			name:    "missing response field",
			raw:     `{"is_unsafe_for_k_12_children": true}`,
			wantErr: true,
		},
		{
			name:    "empty input",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVerdict(%q) = %+v, want error", tt.raw, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict(%q) error: %v", tt.raw, err)
			}
			if v.Unsafe != tt.wantUnsafe {
				t.Errorf("Unsafe = %v, want %v", v.Unsafe, tt.wantUnsafe)
			}
			if v.Response != tt.wantReply {
				t.Errorf("Response = %q, want %q", v.Response, tt.wantReply)
			}
		})
	}
}

type recordingFlagWriter struct {
	identity  string
	message   string
	flaggedAt time.Time
	calls     int
	err       error
}

func (w *recordingFlagWriter) Insert(_ context.Context, identity, message string, flaggedAt time.Time) error {
	w.calls++
	w.identity = identity
	w.message = message
	w.flaggedAt = flaggedAt
	return w.err
}

func TestGateFlag(t *testing.T) {
	writer := &recordingFlagWriter{}
	gate := NewGate(writer, log.NewNop())

	before := time.Now()
	if err := gate.Flag(context.Background(), "student-7", "something inappropriate"); err != nil {
		t.Fatalf("Flag() error: %v", err)
	}

	if writer.calls != 1 {
		t.Fatalf("Insert called %d times, want 1", writer.calls)
	}
	if writer.identity != "student-7" {
		t.Errorf("identity = %q, want %q", writer.identity, "student-7")
	}
	if writer.message != "something inappropriate" {
		t.Errorf("message = %q, want the verbatim message", writer.message)
	}
	if writer.flaggedAt.Before(before) {
		t.Errorf("flaggedAt = %v, want >= %v", writer.flaggedAt, before)
	}
}

func TestGateFlagWriteFailure(t *testing.T) {
	writer := &recordingFlagWriter{err: errors.New("connection refused")}
	gate := NewGate(writer, log.NewNop())

	if err := gate.Flag(context.Background(), "student-7", "bad message"); err == nil {
		t.Fatal("Flag() = nil, want error when the write fails")
	}
}
