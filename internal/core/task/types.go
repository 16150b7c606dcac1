package task

import (
	"errors"
	"time"

	"xscraper/internal/core/query"
	"xscraper/internal/platform/xapi"
)

// Status of a scrape task. Transitions are monotonic:
// queued -> running -> done|failed, never backwards.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var (
	// ErrNotFound means the task id was never issued or has expired.
	ErrNotFound = errors.New("task not found")
	// ErrNotReady means the task exists but has not finished yet.
	ErrNotReady = errors.New("task not ready")
	// ErrFinished means the task already reached a terminal status.
	ErrFinished = errors.New("task already finished")
)

// Failure records why a task failed, with the taxonomy kind preserved so
// result queries replay the original error faithfully.
type Failure struct {
	Kind    xapi.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Task is one asynchronous scrape job. Mutated only by its own execution;
// immutable once terminal.
type Task struct {
	TaskID         string       `json:"task_id"`
	Mode           query.Mode   `json:"mode"`
	Params         query.Params `json:"params"`
	Status         Status       `json:"status"`
	ItemsCollected int          `json:"items_collected"`
	ItemsRequested int          `json:"items_requested"`
	CreatedAt      time.Time    `json:"created_at"`
	Failure        *Failure     `json:"failure,omitempty"`
	Items          []xapi.Post  `json:"items,omitempty"`
}

// Progress is items_collected / items_requested clamped to [0,1]. A done
// task always reports 1 even when the platform ran dry early.
func (t *Task) Progress() float64 {
	if t.Status == StatusDone {
		return 1
	}
	if t.ItemsRequested <= 0 {
		return 0
	}
	p := float64(t.ItemsCollected) / float64(t.ItemsRequested)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (t *Task) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusFailed
}

// Err reconstructs the stored failure as an error, or nil.
func (t *Task) Err() error {
	if t.Failure == nil {
		return nil
	}
	return xapi.NewError(t.Failure.Kind, t.Failure.Message)
}
