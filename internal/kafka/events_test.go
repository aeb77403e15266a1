package kafka

import (
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("wallet.settled", 1, "corr-1")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == "" {
		t.Fatal("event id not assigned")
	}
	if env.Timestamp.IsZero() {
		t.Fatal("timestamp not assigned")
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNewEnvelopeWithIDValidation(t *testing.T) {
	if _, err := NewEnvelopeWithID("", "wallet.settled", 1, ""); err == nil {
		t.Fatal("expected error for empty event id")
	}
	if _, err := NewEnvelopeWithID("evt-1", "", 1, ""); err == nil {
		t.Fatal("expected error for empty event type")
	}
	if _, err := NewEnvelopeWithID("evt-1", "wallet.settled", 0, ""); err == nil {
		t.Fatal("expected error for non-positive version")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := NewEnvelopeWithID("evt-1", "wallet.settled", 1, "")
	if err != nil {
		t.Fatalf("NewEnvelopeWithID: %v", err)
	}

	broken := env
	broken.EventType = ""
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for empty event type")
	}

	broken = env
	broken.Timestamp = time.Time{}
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for zero timestamp")
	}
}
