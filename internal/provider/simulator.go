package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SimulatorOptions tunes the in-process provider stand-in.
type SimulatorOptions struct {
	// SuccessRate is the probability in [0,1] that a send succeeds when no
	// scripted outcome applies. 1 means always deliver.
	SuccessRate float64
	// Latency is slept before each send resolves, if positive.
	Latency time.Duration
	// Seed fixes the random source so failure sequences reproduce.
	Seed int64
}

// SimulatedMessage is one accepted send, retained for inspection.
type SimulatedMessage struct {
	ID        string
	Recipient string
	Body      string
	SentAt    time.Time
}

// Simulator is a deterministic in-memory Sender. Outcomes come from an
// optional per-recipient script first, then from the success rate.
type Simulator struct {
	opts   SimulatorOptions
	logger *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	sent   []SimulatedMessage
	script map[string][]error
}

func NewSimulator(opts SimulatorOptions, logger *zap.Logger) *Simulator {
	if opts.SuccessRate <= 0 {
		opts.SuccessRate = 1.0
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		script: make(map[string][]error),
	}
}

// ScriptOutcomes queues forced outcomes for a recipient. Each queued
// error is consumed by one Send call; a nil entry forces success.
func (s *Simulator) ScriptOutcomes(recipient string, outcomes ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[recipient] = append(s.script[recipient], outcomes...)
}

func (s *Simulator) Send(ctx context.Context, recipient, body string) (string, error) {
	if s.opts.Latency > 0 {
		timer := time.NewTimer(s.opts.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &Error{Kind: KindProviderError, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if queue := s.script[recipient]; len(queue) > 0 {
		next := queue[0]
		s.script[recipient] = queue[1:]
		if next != nil {
			return "", next
		}
	} else if s.opts.SuccessRate < 1.0 && s.rng.Float64() >= s.opts.SuccessRate {
		return "", &Error{Kind: KindProviderError, Err: errSimulatedOutage}
	}

	msg := SimulatedMessage{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Body:      body,
		SentAt:    time.Now().UTC(),
	}
	s.sent = append(s.sent, msg)
	s.logger.Debug("simulated message sent",
		zap.String("recipient", recipient),
		zap.String("id", msg.ID))
	return msg.ID, nil
}

// Sent returns a copy of every message accepted so far.
func (s *Simulator) Sent() []SimulatedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

var errSimulatedOutage = &simError{"simulated provider outage"}

type simError struct{ msg string }

func (e *simError) Error() string { return e.msg }
