package transcript

import (
	"context"
	"log/slog"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/participation"
	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// SessionReader returns committed session snapshots.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (session.Session, error)
}

// Artifacts generates the narrative sections.
type Artifacts interface {
	Summarize(ctx context.Context, snap session.Session) (string, error)
	Report(ctx context.Context, snap session.Session, stats participation.Result) (string, error)
}

// Exporter assembles transcript documents from the latest snapshot.
type Exporter struct {
	sessions  SessionReader
	artifacts Artifacts
	agents    agent.Store
	logger    *slog.Logger
}

// NewExporter creates an exporter. Pass nil logger for default.
func NewExporter(sessions SessionReader, artifacts Artifacts, agents agent.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		sessions:  sessions,
		artifacts: artifacts,
		agents:    agents,
		logger:    logger.With("component", "transcript"),
	}
}

// Export builds the document for one session. Artifact failures degrade to
// an explanatory section; only an unknown session (or a cancelled context)
// fails the export.
func (e *Exporter) Export(ctx context.Context, id string) (Document, error) {
	snap, err := e.sessions.GetSession(ctx, id)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		Session: snap,
		Stats:   participation.Aggregate(snap.Turns),
		Names:   e.names(snap.AgentIDs),
	}

	doc.Summary, doc.SummaryErr = e.artifacts.Summarize(ctx, snap)
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	doc.Report, doc.ReportErr = e.artifacts.Report(ctx, snap, doc.Stats)
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	e.logger.Info("transcript exported",
		"session_id", id,
		"turns", len(snap.Turns),
		"summary_ok", doc.SummaryErr == nil,
		"report_ok", doc.ReportErr == nil,
	)
	return doc, nil
}

func (e *Exporter) names(ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if e.agents == nil {
		return names
	}
	for _, id := range ids {
		if p, ok := e.agents.FindByID(id); ok {
			names[id] = p.DisplayName()
		}
	}
	return names
}
