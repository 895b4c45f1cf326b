package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

func TestLedgerAppendAssignsSequences(t *testing.T) {
	ledger, err := session.NewLedger(3, nil)
	require.NoError(t, err)

	var turn session.Turn
	for i, agent := range []string{"a", "b", "a"} {
		ledger, turn, err = ledger.Append(agent, "msg", "", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, i+1, turn.Sequence)
		assert.False(t, turn.CreatedAt.IsZero())
	}

	turns := ledger.Turns()
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Sequence)
	}
	assert.True(t, ledger.Full())
}

func TestLedgerAppendAtCapacity(t *testing.T) {
	ledger, err := session.NewLedger(1, nil)
	require.NoError(t, err)

	ledger, _, err = ledger.Append("a", "hi", "", time.Time{})
	require.NoError(t, err)

	same, _, err := ledger.Append("b", "hello", "", time.Time{})
	require.ErrorIs(t, err, session.ErrCapacityExceeded)
	assert.Equal(t, 1, same.Len())
	assert.Equal(t, 1, ledger.Len())
}

func TestLedgerAppendDoesNotAffectEarlierValues(t *testing.T) {
	base, err := session.NewLedger(5, nil)
	require.NoError(t, err)
	base, _, err = base.Append("a", "one", "", time.Time{})
	require.NoError(t, err)

	snapshot := base.Turns()
	left, _, err := base.Append("b", "left", "", time.Time{})
	require.NoError(t, err)
	right, _, err := base.Append("c", "right", "", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 1, base.Len())
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "b", left.Turns()[1].AgentID)
	assert.Equal(t, "c", right.Turns()[1].AgentID)
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	ledger, err := session.NewLedger(2, nil)
	require.NoError(t, err)
	ledger, _, err = ledger.Append("a", "original", "", time.Time{})
	require.NoError(t, err)

	turns := ledger.Turns()
	turns[0].Content = "tampered"

	assert.Equal(t, "original", ledger.Turns()[0].Content)
}

func TestNewLedgerValidatesTurns(t *testing.T) {
	_, err := session.NewLedger(0, nil)
	require.ErrorIs(t, err, session.ErrInvalidInput)

	_, err = session.NewLedger(1, []session.Turn{{Sequence: 1}, {Sequence: 2}})
	require.ErrorIs(t, err, session.ErrCapacityExceeded)

	_, err = session.NewLedger(3, []session.Turn{{Sequence: 1}, {Sequence: 3}})
	require.ErrorIs(t, err, session.ErrInvalidInput)

	ledger, err := session.NewLedger(3, []session.Turn{{Sequence: 1}, {Sequence: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.Len())
	assert.Equal(t, 3, ledger.Max())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, session.StatusCompleted.Terminal())
	assert.False(t, session.StatusActive.Terminal())
	assert.False(t, session.StatusStopped.Terminal())
}

func TestKind(t *testing.T) {
	assert.Equal(t, "busy", session.Kind(session.ErrBusy))
	assert.Equal(t, "not_found", session.Kind(session.ErrNotFound))
	assert.Equal(t, "internal", session.Kind(assert.AnError))
}
