// Package ticket issues short-lived, single-use authorization tickets that a
// browser exchanges for a live event stream, so long-lived credentials never
// appear in stream URLs.
package ticket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultExpiry is the validity window of a freshly issued ticket.
const DefaultExpiry = 60 * time.Second

// tokenBytes is the amount of randomness per ticket (hex encoded to 64 chars).
const tokenBytes = 32

var (
	// ErrInvalidTicket is returned when a ticket is unknown, already used,
	// expired, or presented for a different workflow.
	ErrInvalidTicket = errors.New("invalid or expired ticket")
	// ErrInvalidRequest is returned when a ticket is requested without an
	// identity or workflow.
	ErrInvalidRequest = errors.New("identity and workflow id are required")
)

// Ticket binds a caller identity to one workflow for a short window.
type Ticket struct {
	Token      string    `json:"token"`
	Identity   string    `json:"identity"`
	WorkflowID string    `json:"workflowId"`
	CreatedAt  time.Time `json:"createdAt"`
	Used       bool      `json:"used"`
}

// Expired reports whether the ticket's window has elapsed at now.
func (t *Ticket) Expired(now time.Time, expiry time.Duration) bool {
	return now.Sub(t.CreatedAt) >= expiry
}

// Store holds tickets. Implementations must make Consume atomic: for a given
// token exactly one concurrent caller may succeed.
type Store interface {
	Issue(ctx context.Context, identity, workflowID string) (*Ticket, error)
	// Consume validates the ticket for workflowID and marks it used in the
	// same step. A failed presentation does not consume the ticket.
	Consume(ctx context.Context, token, workflowID string) (*Ticket, error)
	// Sweep drops used and expired tickets and reports how many went away.
	Sweep(ctx context.Context) int
	// Expiry is the validity window applied to every ticket.
	Expiry() time.Duration
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ticket: %w", err)
	}
	return hex.EncodeToString(b), nil
}
