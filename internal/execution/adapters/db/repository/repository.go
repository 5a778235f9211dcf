package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/pkg/database"
	"gorm.io/gorm"
)

// ExecutionRecord is the persisted form of a finished execution. Payloads are stored as JSON text.
type ExecutionRecord struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID  string     `gorm:"index;type:varchar(128);not null"`
	Status      string     `gorm:"index;type:varchar(16);not null"`
	Output      string     `gorm:"type:text"`
	NodeResults string     `gorm:"type:text"`
	Errors      string     `gorm:"type:text"`
	Context     string     `gorm:"type:text"`
	StartedAt   time.Time  `gorm:"index"`
	CompletedAt *time.Time
	CreatedAt   time.Time
}

func (ExecutionRecord) TableName() string {
	return "executions"
}

type ExecutionRepository struct {
	db *database.DB
}

func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Migrate creates the executions table.
func (r *ExecutionRepository) Migrate() error {
	return r.db.Migrate(&ExecutionRecord{})
}

// Record upserts the final state of an execution.
func (r *ExecutionRepository) Record(ctx context.Context, result *workflow.Result) error {
	record, err := toRecord(result)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*workflow.Result, error) {
	var record ExecutionRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ports.ErrExecutionNotFound, id)
		}
		return nil, err
	}
	return fromRecord(&record)
}

// ListByWorkflow returns the most recent executions of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*workflow.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ExecutionRecord
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	results := make([]*workflow.Result, 0, len(records))
	for i := range records {
		result, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func toRecord(result *workflow.Result) (*ExecutionRecord, error) {
	record := &ExecutionRecord{
		ID:          result.ExecutionID,
		WorkflowID:  result.WorkflowID,
		Status:      string(result.Status),
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}

	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&record.Output, result.Output},
		{&record.NodeResults, result.NodeResults},
		{&record.Errors, result.Errors},
		{&record.Context, result.Context},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode execution %s: %w", result.ExecutionID, err)
		}
		*f.dst = string(data)
	}
	return record, nil
}

func fromRecord(record *ExecutionRecord) (*workflow.Result, error) {
	result := &workflow.Result{
		ExecutionID: record.ID,
		WorkflowID:  record.WorkflowID,
		Status:      workflow.ExecutionStatus(record.Status),
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
	}

	fields := []struct {
		src string
		dst interface{}
	}{
		{record.Output, &result.Output},
		{record.NodeResults, &result.NodeResults},
		{record.Errors, &result.Errors},
		{record.Context, &result.Context},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode execution %s: %w", record.ID, err)
		}
	}
	return result, nil
}
