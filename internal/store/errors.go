package store

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

var (
	// ErrDuplicate is returned when creating a session whose id is taken.
	ErrDuplicate = errors.New("session already exists")
	// ErrSequenceConflict is returned when appended turns do not continue the
	// stored sequence.
	ErrSequenceConflict = errors.New("turn sequence conflict")
)

func checkContinuity(stored, max int, turns []session.Turn) error {
	if stored+len(turns) > max {
		return fmt.Errorf("%w: %d stored + %d new exceeds %d", session.ErrCapacityExceeded, stored, len(turns), max)
	}
	for i, t := range turns {
		if want := stored + i + 1; t.Sequence != want {
			return fmt.Errorf("%w: got sequence %d, want %d", ErrSequenceConflict, t.Sequence, want)
		}
	}
	return nil
}
