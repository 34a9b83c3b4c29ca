package toolsafety

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfirmationOutcome is the terminal state of a confirmation request.
type ConfirmationOutcome string

const (
	Approved  ConfirmationOutcome = "approved"
	Rejected  ConfirmationOutcome = "rejected"
	TimedOut  ConfirmationOutcome = "timed_out"
	Cancelled ConfirmationOutcome = "cancelled"
)

// ConfirmationDetails describes the action awaiting confirmation, surfaced
// to whatever UI layer is subscribed to pending requests.
type ConfirmationDetails struct {
	ToolName string
	RiskTag  string
	Summary  string
	Args     map[string]any
}

// pendingRequest holds the response channel for one in-flight request.
type pendingRequest struct {
	response chan ConfirmationOutcome
}

// Bus is an asynchronous, correlation-id keyed request/response channel
// for human-in-the-loop confirmations. No request blocks indefinitely: it
// resolves to Approved, Rejected, TimedOut, or Cancelled.
type Bus struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	onRequest func(id string, details ConfirmationDetails)
}

// NewBus creates an empty confirmation bus. onRequest, if non-nil, is
// invoked synchronously from Request with the generated correlation id so
// the caller can surface the request to a UI before Request blocks.
func NewBus(onRequest func(id string, details ConfirmationDetails)) *Bus {
	return &Bus{
		pending:   make(map[string]*pendingRequest),
		onRequest: onRequest,
	}
}

// Request registers a new confirmation request and blocks until it is
// resolved by Respond, the timeout elapses, or ctx is cancelled.
func (b *Bus) Request(ctx context.Context, details ConfirmationDetails, timeout time.Duration) (string, ConfirmationOutcome) {
	id := uuid.NewString()
	pr := &pendingRequest{response: make(chan ConfirmationOutcome, 1)}

	b.mu.Lock()
	b.pending[id] = pr
	b.mu.Unlock()

	if b.onRequest != nil {
		b.onRequest(id, details)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-pr.response:
		return id, outcome
	case <-timer.C:
		b.resolve(id, TimedOut)
		return id, TimedOut
	case <-ctx.Done():
		b.resolve(id, Cancelled)
		return id, Cancelled
	}
}

// Respond delivers a decision for a pending request. It is a no-op if the
// id is unknown (already resolved, or never existed) so a late or
// duplicate response cannot panic the caller.
func (b *Bus) Respond(id string, outcome ConfirmationOutcome) {
	b.mu.Lock()
	pr, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	pr.response <- outcome
}

// resolve is used internally by Request's timeout/cancellation paths,
// which already hold the outcome and must clear pending state themselves.
func (b *Bus) resolve(id string, outcome ConfirmationOutcome) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
	_ = outcome
}

// Pending returns the correlation ids of all requests awaiting a response.
func (b *Bus) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}
