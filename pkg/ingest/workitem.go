package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Status is the lifecycle status of a work item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// DateLayout is the layout of work item target dates.
const DateLayout = "2006-01-02"

// WorkItem is one unit of scheduled ingestion work: one account and date.
type WorkItem interface {
	ID() string
	AccountID() string
	TargetDate() time.Time
	Backfill() bool
	Status() Status
}

// StatusReporter receives terminal status transitions of work items.
// Persisting them is the reporter's responsibility.
type StatusReporter interface {
	ReportStatus(ctx context.Context, item WorkItem, status Status, cause error) error
}

// Item is the plain value implementation of WorkItem.
type Item struct {
	ItemID     string `json:"id"`
	Account    string `json:"account_id"`
	Date       string `json:"target_date"`
	IsBackfill bool   `json:"backfill,omitempty"`
	State      Status `json:"status,omitempty"`
}

func (i *Item) ID() string        { return i.ItemID }
func (i *Item) AccountID() string { return i.Account }
func (i *Item) Backfill() bool    { return i.IsBackfill }

// TargetDate returns the parsed target date, or the zero time when Date is invalid.
func (i *Item) TargetDate() time.Time {
	t, err := time.Parse(DateLayout, i.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Status returns the item status, StatusPending when unset.
func (i *Item) Status() Status {
	if i.State == "" {
		return StatusPending
	}
	return i.State
}

// Validate checks the fields a fetch depends on.
func (i *Item) Validate() error {
	if i.ItemID == "" {
		return errors.New("work item id is required")
	}
	if i.Account == "" {
		return errors.New("account id is required")
	}
	if _, err := time.Parse(DateLayout, i.Date); err != nil {
		return errors.New("target date must be formatted as YYYY-MM-DD")
	}
	return nil
}

// LogReporter reports status transitions to the log and onto Items.
type LogReporter struct {
	Logger zerolog.Logger
}

// ReportStatus implements StatusReporter.
func (r LogReporter) ReportStatus(_ context.Context, item WorkItem, status Status, cause error) error {
	if it, ok := item.(*Item); ok {
		it.State = status
	}

	evt := r.Logger.Info()
	if status == StatusError {
		evt = r.Logger.Error().Err(cause)
	}
	evt.Str("work_item_id", item.ID()).
		Str("account_id", item.AccountID()).
		Str("status", string(status)).
		Msg("Work item status changed")
	return nil
}
