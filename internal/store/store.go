package store

import (
	"context"
	"time"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// Store persists sessions and their turns. Implementations must make
// AppendTurns all-or-nothing and give read-your-writes consistency.
// Lookups of unknown sessions fail with session.ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	// ListSessions returns sessions newest first. limit <= 0 returns all.
	ListSessions(ctx context.Context, limit int) ([]*session.Session, error)
	UpdateStatus(ctx context.Context, id string, status session.Status, updatedAt time.Time) error
	// AppendTurns stores turns after the ones already committed and sets the
	// session status in the same transaction.
	AppendTurns(ctx context.Context, id string, turns []session.Turn, status session.Status, updatedAt time.Time) error
	Close() error
}

func cloneSession(s *session.Session) *session.Session {
	c := *s
	c.AgentIDs = append([]string(nil), s.AgentIDs...)
	c.Turns = append([]session.Turn(nil), s.Turns...)
	return &c
}
