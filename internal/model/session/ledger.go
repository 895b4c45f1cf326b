package session

import (
	"fmt"
	"time"
)

// Ledger is the ordered, append-only record of a session's turns.
//
// A Ledger value is immutable: Append returns a new Ledger and never writes
// into a backing array that an earlier value can observe, so a Ledger can be
// shared with any number of readers without locking.
type Ledger struct {
	max   int
	turns []Turn
}

// NewLedger builds a ledger bounded by max from already committed turns.
// The turns must carry sequences 1..n in order.
func NewLedger(max int, turns []Turn) (Ledger, error) {
	if max <= 0 {
		return Ledger{}, fmt.Errorf("%w: max turns must be positive, got %d", ErrInvalidInput, max)
	}
	if len(turns) > max {
		return Ledger{}, fmt.Errorf("%w: %d turns exceed max %d", ErrCapacityExceeded, len(turns), max)
	}
	for i, t := range turns {
		if t.Sequence != i+1 {
			return Ledger{}, fmt.Errorf("%w: turn at position %d has sequence %d", ErrInvalidInput, i+1, t.Sequence)
		}
	}
	return Ledger{max: max, turns: append([]Turn(nil), turns...)}, nil
}

// Len returns the number of turns.
func (l Ledger) Len() int {
	return len(l.turns)
}

// Max returns the turn budget.
func (l Ledger) Max() int {
	return l.max
}

// Full reports whether the ledger has reached its budget.
func (l Ledger) Full() bool {
	return len(l.turns) >= l.max
}

// Append assigns the next sequence number to a turn built from the arguments
// and returns the grown ledger together with the stored turn. It fails with
// ErrCapacityExceeded when the ledger is already full; l is left untouched
// either way.
func (l Ledger) Append(agentID, content, prompt string, at time.Time) (Ledger, Turn, error) {
	if l.Full() {
		return l, Turn{}, fmt.Errorf("%w: ledger holds %d of %d turns", ErrCapacityExceeded, len(l.turns), l.max)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	turn := Turn{
		Sequence:  len(l.turns) + 1,
		AgentID:   agentID,
		Content:   content,
		Prompt:    prompt,
		CreatedAt: at,
	}

	next := make([]Turn, len(l.turns), len(l.turns)+1)
	copy(next, l.turns)
	next = append(next, turn)
	return Ledger{max: l.max, turns: next}, turn, nil
}

// Turns returns a copy of the recorded turns.
func (l Ledger) Turns() []Turn {
	return append([]Turn(nil), l.turns...)
}
