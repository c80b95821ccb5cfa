package services

import (
	"context"

	"github.com/google/uuid"

	redisclient "github.com/slabworks/cardvault-backend/internal/clients/redis"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusDenied  = "DENIED"
	AuditStatusFailure = "FAILURE"
)

// AuditEvent is the structured record emitted once per meaningful replace
// pipeline transition.
type AuditEvent struct {
	Action         string         `json:"action"`
	Status         string         `json:"status"`
	SetID          string         `json:"set_id,omitempty"`
	ReplaceJobID   *uuid.UUID     `json:"replace_job_id,omitempty"`
	IngestionJobID *uuid.UUID     `json:"ingestion_job_id,omitempty"`
	DraftID        *uuid.UUID     `json:"draft_id,omitempty"`
	DraftVersionID *uuid.UUID     `json:"draft_version_id,omitempty"`
	ApprovalID     *uuid.UUID     `json:"approval_id,omitempty"`
	SeedJobID      *uuid.UUID     `json:"seed_job_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AuditSink receives pipeline events fire-and-forget: Record never fails the
// caller and never blocks pipeline progress on sink trouble.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

type auditService struct {
	log *logger.Logger
	bus redisclient.AuditBus
}

func NewAuditService(baseLog *logger.Logger, bus redisclient.AuditBus) AuditSink {
	return &auditService{log: baseLog.With("service", "AuditService"), bus: bus}
}

func (s *auditService) Record(ctx context.Context, event AuditEvent) {
	if s.bus == nil {
		s.log.Debug("audit event (no bus)", "action", event.Action, "status", event.Status, "set_id", event.SetID)
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("audit publish failed", "action", event.Action, "error", err)
	}
}

// NoopAuditSink is used in tests and when no audit transport is configured.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(ctx context.Context, event AuditEvent) {}
