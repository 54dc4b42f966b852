package provider

import (
	"context"
	"testing"
	"time"
)

func TestSimulatorDeliversAndRecords(t *testing.T) {
	sim := NewSimulator(SimulatorOptions{Seed: 1}, nil)

	id, err := sim.Send(context.Background(), "+15550001111", "task created")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Fatal("expected a message id")
	}

	sent := sim.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 recorded message, got %d", len(sent))
	}
	if sent[0].Recipient != "+15550001111" || sent[0].Body != "task created" {
		t.Fatalf("recorded message mismatch: %+v", sent[0])
	}
}

func TestSimulatorScriptedOutcomes(t *testing.T) {
	sim := NewSimulator(SimulatorOptions{Seed: 1}, nil)
	sim.ScriptOutcomes("+1555",
		&Error{Kind: KindThrottled, RetryAfter: time.Second},
		&Error{Kind: KindInvalidRecipient},
		nil,
	)

	_, err := sim.Send(context.Background(), "+1555", "a")
	if KindOf(err) != KindThrottled {
		t.Fatalf("expected throttled, got %v", err)
	}
	if RetryAfterOf(err) != time.Second {
		t.Fatalf("expected retry-after 1s, got %v", RetryAfterOf(err))
	}

	_, err = sim.Send(context.Background(), "+1555", "b")
	if !Permanent(err) {
		t.Fatalf("expected permanent invalid recipient, got %v", err)
	}

	if _, err = sim.Send(context.Background(), "+1555", "c"); err != nil {
		t.Fatalf("scripted success failed: %v", err)
	}
	if got := len(sim.Sent()); got != 1 {
		t.Fatalf("expected exactly 1 delivered message, got %d", got)
	}
}

func TestSimulatorSeedReproducesFailures(t *testing.T) {
	run := func() []bool {
		sim := NewSimulator(SimulatorOptions{SuccessRate: 0.5, Seed: 42}, nil)
		var outcomes []bool
		for i := 0; i < 20; i++ {
			_, err := sim.Send(context.Background(), "+1555", "x")
			outcomes = append(outcomes, err == nil)
		}
		return outcomes
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("outcome %d diverged between seeded runs", i)
		}
	}
}

func TestSimulatorHonorsContextDuringLatency(t *testing.T) {
	sim := NewSimulator(SimulatorOptions{Seed: 1, Latency: time.Minute}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Send(ctx, "+1555", "x")
	if KindOf(err) != KindProviderError {
		t.Fatalf("expected provider error on cancellation, got %v", err)
	}
	if len(sim.Sent()) != 0 {
		t.Fatal("cancelled send must not record a message")
	}
}
