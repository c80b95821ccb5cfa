package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Replace job stages. Linear, no branching except to FAILED/CANCELLED from
// any non-terminal stage.
const (
	StageQueued            = "QUEUED"
	StageValidatingPreview = "VALIDATING_PREVIEW"
	StageDeletingSet       = "DELETING_SET"
	StageCreatingDraft     = "CREATING_DRAFT"
	StageApprovingDraft    = "APPROVING_DRAFT"
	StageSeedingSet        = "SEEDING_SET"
	StageComplete          = "COMPLETE"
	StageFailed            = "FAILED"
	StageCancelled         = "CANCELLED"
)

func IsTerminalStage(stage string) bool {
	switch stage {
	case StageComplete, StageFailed, StageCancelled:
		return true
	}
	return false
}

// Step names, one per pipeline step, in execution order.
const (
	StepValidate = "validate"
	StepDelete   = "delete"
	StepDraft    = "draft"
	StepApprove  = "approve"
	StepSeed     = "seed"
)

var ReplaceStepOrder = []string{StepValidate, StepDelete, StepDraft, StepApprove, StepSeed}

const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepComplete   = "complete"
	StepFailed     = "failed"
	StepCancelled  = "cancelled"
)

// ReplaceStep is one entry of the operator-visible step log. Timestamps are
// first-write-wins.
type ReplaceStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReplaceProgress is the typed shape behind ReplaceJob.Progress. Stage is a
// projection of the authoritative job stage; Steps always holds the five
// pipeline steps in order.
type ReplaceProgress struct {
	Stage string        `json:"stage"`
	Steps []ReplaceStep `json:"steps"`
}

func NewReplaceProgress() ReplaceProgress {
	steps := make([]ReplaceStep, 0, len(ReplaceStepOrder))
	for _, name := range ReplaceStepOrder {
		steps = append(steps, ReplaceStep{Name: name, Status: StepPending})
	}
	return ReplaceProgress{Stage: StageQueued, Steps: steps}
}

func (p *ReplaceProgress) Step(name string) *ReplaceStep {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i]
		}
	}
	return nil
}

func (p ReplaceProgress) ToJSON() datatypes.JSON {
	b, _ := json.Marshal(p)
	return datatypes.JSON(b)
}

func ReplaceProgressFromJSON(raw datatypes.JSON) ReplaceProgress {
	if len(raw) == 0 {
		return NewReplaceProgress()
	}
	var p ReplaceProgress
	if err := json.Unmarshal(raw, &p); err != nil || len(p.Steps) == 0 {
		return NewReplaceProgress()
	}
	return p
}

// ReplaceRunArgs is the persisted input of a replace job: the job must be
// able to re-derive its whole preview from storage, both after a process
// restart and to prove the operator-approved hash still holds at execution
// time.
type ReplaceRunArgs struct {
	SetLabel    string          `json:"set_label"`
	DatasetType string          `json:"dataset_type"`
	RawRows     json.RawMessage `json:"raw_rows"`
	RequestedBy string          `json:"requested_by,omitempty"`
}

func (a ReplaceRunArgs) ToJSON() datatypes.JSON {
	b, _ := json.Marshal(a)
	return datatypes.JSON(b)
}

func ReplaceRunArgsFromJSON(raw datatypes.JSON) (ReplaceRunArgs, error) {
	var a ReplaceRunArgs
	err := json.Unmarshal(raw, &a)
	return a, err
}

// ConfirmationPhrase is the exact string an operator must type to authorize
// a destructive replace of the given set.
func ConfirmationPhrase(setID string) string {
	return "REPLACE " + setID
}

// ReplaceLogEntry is one line of the append-only job log.
type ReplaceLogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// ReplaceJob is the orchestration record for one destructive set replace.
// ActiveSetLock holds the normalized set id only while the job is
// non-terminal; its uniqueness constraint is what enforces at most one
// active replace per set. Terminal jobs are immutable; a retry is a new job
// pointing back through RetryOfID.
type ReplaceJob struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SetID        string         `gorm:"column:set_id;not null;index" json:"set_id"`
	SetLabel     string         `gorm:"column:set_label" json:"set_label"`
	DatasetType  string         `gorm:"column:dataset_type;not null" json:"dataset_type"`
	Stage        string         `gorm:"column:stage;not null;index" json:"stage"`
	PreviewHash  string         `gorm:"column:preview_hash;not null" json:"preview_hash"`
	Confirmation string         `gorm:"column:confirmation;not null" json:"confirmation"`
	RunArgs      datatypes.JSON `gorm:"column:run_args;type:jsonb" json:"run_args"`
	Progress     datatypes.JSON `gorm:"column:progress;type:jsonb" json:"progress"`
	Logs         datatypes.JSON `gorm:"column:logs;type:jsonb" json:"logs"`

	IngestionJobID *uuid.UUID `gorm:"type:uuid;column:ingestion_job_id" json:"ingestion_job_id,omitempty"`
	DraftID        *uuid.UUID `gorm:"type:uuid;column:draft_id" json:"draft_id,omitempty"`
	DraftVersionID *uuid.UUID `gorm:"type:uuid;column:draft_version_id" json:"draft_version_id,omitempty"`
	ApprovalID     *uuid.UUID `gorm:"type:uuid;column:approval_id" json:"approval_id,omitempty"`
	SeedJobID      *uuid.UUID `gorm:"type:uuid;column:seed_job_id" json:"seed_job_id,omitempty"`
	RetryOfID      *uuid.UUID `gorm:"type:uuid;column:retry_of_id" json:"retry_of_id,omitempty"`

	ActiveSetLock     *string        `gorm:"column:active_set_lock;uniqueIndex" json:"active_set_lock,omitempty"`
	CancelRequestedAt *time.Time     `gorm:"column:cancel_requested_at" json:"cancel_requested_at,omitempty"`
	HeartbeatAt       *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	StartedAt         *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ErrorMessage      string         `gorm:"column:error_message" json:"error_message,omitempty"`
	SeedSummary       datatypes.JSON `gorm:"column:seed_summary;type:jsonb" json:"seed_summary,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ReplaceJob) TableName() string { return "replace_job" }

// Seed job statuses. QUEUED/RUNNING are the active statuses that block a new
// replace job for the same draft.
const (
	SeedStatusQueued    = "QUEUED"
	SeedStatusRunning   = "RUNNING"
	SeedStatusComplete  = "COMPLETE"
	SeedStatusFailed    = "FAILED"
	SeedStatusCancelled = "CANCELLED"
)

func IsActiveSeedStatus(status string) bool {
	return status == SeedStatusQueued || status == SeedStatusRunning
}

// SeedJob tracks one run of the seed engine over an approved draft version.
// Counters are checkpointed periodically so a crashed process still reports
// accurate last-known progress.
type SeedJob struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DraftVersionID uuid.UUID  `gorm:"type:uuid;column:draft_version_id;not null;index" json:"draft_version_id"`
	SetID          string     `gorm:"column:set_id;not null;index" json:"set_id"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	Processed      int        `gorm:"column:processed;not null;default:0" json:"processed"`
	Total          int        `gorm:"column:total;not null;default:0" json:"total"`
	Inserted       int        `gorm:"column:inserted;not null;default:0" json:"inserted"`
	Updated        int        `gorm:"column:updated;not null;default:0" json:"updated"`
	Failed         int        `gorm:"column:failed;not null;default:0" json:"failed"`
	Skipped        int        `gorm:"column:skipped;not null;default:0" json:"skipped"`
	QueueCount     int        `gorm:"column:queue_count;not null;default:0" json:"queue_count"`
	ErrorMessage   string     `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (SeedJob) TableName() string { return "seed_job" }
