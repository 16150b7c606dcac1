package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"xscraper/internal/core/paginate"
	"xscraper/internal/core/query"
	"xscraper/internal/core/task"
	"xscraper/internal/logger"
	"xscraper/internal/platform/tasks"
	"xscraper/internal/platform/xapi"
)

// Enqueuer schedules background work. Satisfied by the asynq task client.
type Enqueuer interface {
	Enqueue(t *asynq.Task, queue string, maxRetries int) error
}

// SubmitRequest is the caller-facing job submission.
type SubmitRequest struct {
	Mode           query.Mode   `json:"mode"`
	AccountID      string       `json:"account_id"`
	Secret         string       `json:"secret"`
	Parameters     query.Params `json:"parameters"`
	RequestedCount int          `json:"requested_count"`
}

// ProgressReport is one progress snapshot of a task.
type ProgressReport struct {
	Progress       float64 `json:"progress"`
	ItemsCollected int     `json:"items_collected"`
	ItemsRequested int     `json:"items_requested"`
	Done           bool    `json:"done"`
}

type taskPayload struct {
	TaskID     string          `json:"task_id"`
	Mode       query.Mode      `json:"mode"`
	Params     query.Params    `json:"params"`
	Credential xapi.Credential `json:"credential"`
	Count      int             `json:"count"`
}

// Service owns the lifecycle of scrape jobs: submission, asynchronous
// execution, progress tracking, result delivery and cancellation.
type Service struct {
	store     *task.Store
	collector *paginate.Collector
	tasks     Enqueuer
	log       *logger.Logger

	cancelPoll time.Duration
}

func NewService(store *task.Store, collector *paginate.Collector, enqueuer Enqueuer) *Service {
	return &Service{
		store:      store,
		collector:  collector,
		tasks:      enqueuer,
		log:        logger.New("ScrapeService"),
		cancelPoll: 250 * time.Millisecond,
	}
}

// Submit validates the request eagerly, allocates a task id and schedules
// execution without blocking the caller. Validation failures never create
// a task.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.RequestedCount <= 0 {
		return "", xapi.NewError(xapi.KindInvalidParameter, "requested_count must be positive")
	}
	if req.AccountID == "" || req.Secret == "" {
		return "", xapi.NewError(xapi.KindInvalidParameter, "account_id and secret are required")
	}
	if _, err := query.Plan(req.Mode, req.Parameters); err != nil {
		return "", err
	}

	id := uuid.New().String()
	t := &task.Task{
		TaskID:         id,
		Mode:           req.Mode,
		Params:         req.Parameters,
		Status:         task.StatusQueued,
		ItemsRequested: req.RequestedCount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Save(ctx, t); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(taskPayload{
		TaskID:     id,
		Mode:       req.Mode,
		Params:     req.Parameters,
		Credential: xapi.Credential{AccountID: req.AccountID, Secret: req.Secret},
		Count:      req.RequestedCount,
	})
	// Retries stay inside the engine: a failed execution records its error
	// on the task instead of being re-run by the queue.
	if err := s.tasks.Enqueue(asynq.NewTask(tasks.TaskTypeScrape, payload), "default", 0); err != nil {
		return "", err
	}
	s.log.LogInfof("enqueued scrape task %s mode=%s count=%d account=%s", id, req.Mode, req.RequestedCount, req.AccountID)
	return id, nil
}

func (s *Service) Progress(ctx context.Context, id string) (ProgressReport, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return ProgressReport{}, err
	}
	return ProgressReport{
		Progress:       t.Progress(),
		ItemsCollected: t.ItemsCollected,
		ItemsRequested: t.ItemsRequested,
		Done:           t.Terminal(),
	}, nil
}

// Result returns the collected items once the task is done. A running task
// yields ErrNotReady; a failed task replays its stored error.
func (s *Service) Result(ctx context.Context, id string) ([]xapi.Post, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case task.StatusDone:
		return t.Items, nil
	case task.StatusFailed:
		return nil, t.Err()
	default:
		return nil, task.ErrNotReady
	}
}

// Cancel requests cooperative cancellation. The running execution notices
// the flag between pages and stops early, discarding partial items.
func (s *Service) Cancel(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Terminal() {
		return task.ErrFinished
	}
	s.log.LogInfof("cancellation requested for task %s", id)
	return s.store.RequestCancel(ctx, id)
}

// HandleScrapeTask is the asynq handler driving one scrape job from queued
// to a terminal status. It never returns an error for domain failures;
// those are recorded on the task.
func (s *Service) HandleScrapeTask(ctx context.Context, at *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(at.Payload(), &p); err != nil {
		return err
	}

	t, err := s.store.Get(ctx, p.TaskID)
	if err != nil {
		s.log.LogWarnf("task %s vanished before execution", p.TaskID)
		return nil
	}

	t.Status = task.StatusRunning
	if err := s.store.Save(ctx, t); err != nil {
		return err
	}
	s.log.LogInfof("running scrape task %s", p.TaskID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watchCancel(runCtx, p.TaskID, cancel)

	spec, err := query.Plan(p.Mode, p.Params)
	if err != nil {
		// Submit validated already; reaching this means the payload was
		// corrupted in transit.
		s.fail(ctx, t, err)
		return nil
	}

	items, err := s.collector.Collect(runCtx, p.Credential, spec, p.Count, func(collected int) {
		t.ItemsCollected = collected
		if serr := s.store.Save(runCtx, t); serr != nil {
			s.log.LogWarnf("progress update failed for %s: %v", p.TaskID, serr)
		}
	})
	if err != nil {
		if xapi.IsKind(err, xapi.KindCancelled) {
			// Partial results are not exposed on cancellation.
			t.ItemsCollected = 0
			t.Items = nil
		}
		s.fail(ctx, t, err)
		return nil
	}

	sortItems(items, spec.Sort)
	t.Items = items
	t.ItemsCollected = len(items)
	t.Status = task.StatusDone
	if err := s.store.Save(ctx, t); err != nil {
		return err
	}
	s.store.ClearCancel(ctx, p.TaskID)
	s.log.LogInfof("scrape task %s done: %d/%d items", p.TaskID, len(items), p.Count)
	return nil
}

func (s *Service) fail(ctx context.Context, t *task.Task, err error) {
	t.Status = task.StatusFailed
	t.Failure = failureFrom(err)
	t.Items = nil
	if serr := s.store.Save(ctx, t); serr != nil {
		s.log.LogError("recording task failure", serr)
	}
	s.store.ClearCancel(ctx, t.TaskID)
	s.log.LogWarnf("scrape task %s failed: %s", t.TaskID, t.Failure.Message)
}

// watchCancel polls the cancellation flag and cancels the run context when
// it is raised, so the collector stops at the next page boundary.
func (s *Service) watchCancel(ctx context.Context, id string, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.store.CancelRequested(ctx, id) {
				cancel()
				return
			}
		}
	}
}

func failureFrom(err error) *task.Failure {
	var xe *xapi.Error
	if errors.As(err, &xe) {
		msg := xe.Message
		if xe.Err != nil {
			msg = fmt.Sprintf("%s: %v", xe.Message, xe.Err)
		}
		return &task.Failure{Kind: xe.Kind, Message: msg}
	}
	return &task.Failure{Kind: xapi.KindInternal, Message: err.Error()}
}

// sortItems applies the plan's stable ordering: reverse-chronological by
// default, engagement-first for popular queries.
func sortItems(items []xapi.Post, key xapi.SortKey) {
	switch key {
	case xapi.SortEngagement:
		sort.SliceStable(items, func(i, j int) bool {
			a, b := score(items[i]), score(items[j])
			if a != b {
				return a > b
			}
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	}
}

func score(p xapi.Post) int {
	return p.Engagement.Likes + p.Engagement.Reposts + p.Engagement.Replies
}
