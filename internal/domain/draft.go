package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DatasetTypeParallelDB      = "PARALLEL_DB"
	DatasetTypePlayerWorksheet = "PLAYER_WORKSHEET"
)

// SetDraft stages checklist data for one set before it becomes live catalog
// content. One draft per set id.
type SetDraft struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SetID       string    `gorm:"column:set_id;not null;uniqueIndex" json:"set_id"`
	DatasetType string    `gorm:"column:dataset_type;not null" json:"dataset_type"`
	Status      string    `gorm:"column:status;not null" json:"status"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (SetDraft) TableName() string { return "set_draft" }

// DraftVersion is an immutable, monotonically numbered snapshot of normalized
// rows. VersionHash covers a canonical projection of the rows, so identical
// semantic content re-submitted later hashes identically.
type DraftVersion struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DraftID            uuid.UUID      `gorm:"type:uuid;column:draft_id;not null;index" json:"draft_id"`
	Version            int            `gorm:"column:version;not null" json:"version"`
	VersionHash        string         `gorm:"column:version_hash;not null;index" json:"version_hash"`
	Rows               datatypes.JSON `gorm:"column:rows;type:jsonb" json:"rows"`
	RowCount           int            `gorm:"column:row_count;not null" json:"row_count"`
	ErrorCount         int            `gorm:"column:error_count;not null" json:"error_count"`
	BlockingErrorCount int            `gorm:"column:blocking_error_count;not null" json:"blocking_error_count"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
}

func (DraftVersion) TableName() string { return "draft_version" }

// DraftApproval records the programmatic sign-off of a draft version. The
// replace pipeline is operator-confirmed up front, so approval is written by
// the approve stage rather than re-solicited.
type DraftApproval struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DraftVersionID uuid.UUID      `gorm:"type:uuid;column:draft_version_id;not null;index" json:"draft_version_id"`
	ApprovedBy     string         `gorm:"column:approved_by;not null" json:"approved_by"`
	DiffSummary    datatypes.JSON `gorm:"column:diff_summary;type:jsonb" json:"diff_summary"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (DraftApproval) TableName() string { return "draft_approval" }

// IngestionJob captures the raw row payload and parser provenance for audit.
// Retained even when the replace attempt fails.
type IngestionJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SetID       string         `gorm:"column:set_id;not null;index" json:"set_id"`
	DatasetType string         `gorm:"column:dataset_type;not null" json:"dataset_type"`
	ParserName  string         `gorm:"column:parser_name" json:"parser_name"`
	SourceLabel string         `gorm:"column:source_label" json:"source_label"`
	RawRows     datatypes.JSON `gorm:"column:raw_rows;type:jsonb" json:"raw_rows"`
	RowCount    int            `gorm:"column:row_count;not null" json:"row_count"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (IngestionJob) TableName() string { return "ingestion_job" }
