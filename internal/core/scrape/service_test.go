package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xscraper/internal/core/paginate"
	"xscraper/internal/core/query"
	"xscraper/internal/core/task"
	"xscraper/internal/platform/tasks"
	"xscraper/internal/platform/xapi"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) CacheGet(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return errors.New("key not found")
	}
	return json.Unmarshal(b, dest)
}

func (m *memKV) CacheSet(_ context.Context, key string, val interface{}, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memKV) CacheDel(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fakeSessions struct {
	mu      sync.Mutex
	auths   int
	authErr error
}

func (f *fakeSessions) GetOrCreate(_ context.Context, cred xapi.Credential) (*xapi.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	f.auths++
	return &xapi.Session{AccountID: cred.AccountID}, nil
}

func (f *fakeSessions) Invalidate(_ context.Context, _ string) error { return nil }

type fetchResult struct {
	page  xapi.Page
	err   error
	delay time.Duration
}

type fakeGateway struct {
	mu      sync.Mutex
	results []fetchResult
}

func (g *fakeGateway) Authenticate(_ context.Context, cred xapi.Credential) (*xapi.Session, error) {
	return &xapi.Session{AccountID: cred.AccountID}, nil
}

func (g *fakeGateway) FetchPage(_ context.Context, _ *xapi.Session, _ xapi.FetchSpec, _ string, _ int) (xapi.Page, error) {
	g.mu.Lock()
	if len(g.results) == 0 {
		g.mu.Unlock()
		return xapi.Page{}, nil
	}
	r := g.results[0]
	g.results = g.results[1:]
	g.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.page, r.err
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, t)
	return nil
}

func timelinePosts(n int, offset int) []xapi.Post {
	out := make([]xapi.Post, 0, n)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := offset + i
		out = append(out, xapi.Post{
			ID:        fmt.Sprintf("%d", id),
			Author:    "alice",
			Text:      fmt.Sprintf("post %d", id),
			CreatedAt: base.Add(-time.Duration(id) * time.Minute),
		})
	}
	return out
}

func newTestService(gw *fakeGateway, sessions *fakeSessions) (*Service, *fakeEnqueuer, *task.Store) {
	store := task.NewStore(newMemKV())
	collector := paginate.NewCollector(gw, sessions, paginate.Config{
		PageSize:   5,
		MaxPages:   10,
		MaxRetries: 2,
		Backoff:    paginate.ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	})
	enq := &fakeEnqueuer{}
	svc := NewService(store, collector, enq)
	svc.cancelPoll = time.Millisecond
	return svc, enq, store
}

func timelineRequest(count int) SubmitRequest {
	return SubmitRequest{
		Mode:           query.ModeTimeline,
		AccountID:      "alice",
		Secret:         "s3cret",
		Parameters:     query.Params{Handle: "alice"},
		RequestedCount: count,
	}
}

func runEnqueued(t *testing.T, svc *Service, enq *fakeEnqueuer) {
	t.Helper()
	require.Len(t, enq.enqueued, 1)
	at := enq.enqueued[0]
	assert.Equal(t, tasks.TaskTypeScrape, at.Type())
	require.NoError(t, svc.HandleScrapeTask(context.Background(), at))
}

func TestSubmitValidatesEagerly(t *testing.T) {
	svc, enq, _ := newTestService(&fakeGateway{}, &fakeSessions{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Mode:      query.ModeDateRange,
		AccountID: "alice",
		Secret:    "s3cret",
		Parameters: query.Params{
			Query:     "#golang",
			StartDate: "2024-05-01",
			EndDate:   "2024-01-01",
		},
		RequestedCount: 10,
	})
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindInvalidParameter))
	assert.Empty(t, enq.enqueued, "no job may be scheduled for invalid parameters")
}

func TestSubmitRequiresPositiveCount(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{}, &fakeSessions{})
	req := timelineRequest(0)
	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindInvalidParameter))
}

func TestSubmitRequiresCredentials(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{}, &fakeSessions{})
	req := timelineRequest(10)
	req.Secret = ""
	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindInvalidParameter))
}

func TestSubmitCreatesQueuedTask(t *testing.T) {
	svc, enq, _ := newTestService(&fakeGateway{}, &fakeSessions{})

	id, err := svc.Submit(context.Background(), timelineRequest(10))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Len(t, enq.enqueued, 1)

	report, err := svc.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Progress)
	assert.Equal(t, 10, report.ItemsRequested)
	assert.False(t, report.Done)

	_, err = svc.Result(context.Background(), id)
	assert.ErrorIs(t, err, task.ErrNotReady)
}

func TestTimelineScrapeCompletes(t *testing.T) {
	gw := &fakeGateway{results: []fetchResult{
		{page: xapi.Page{Posts: timelinePosts(5, 0), NextCursor: "c1"}},
		{page: xapi.Page{Posts: timelinePosts(5, 5), NextCursor: "c2"}},
	}}
	svc, enq, _ := newTestService(gw, &fakeSessions{})

	id, err := svc.Submit(context.Background(), timelineRequest(10))
	require.NoError(t, err)
	runEnqueued(t, svc, enq)

	report, err := svc.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.Equal(t, 1.0, report.Progress)
	assert.Equal(t, 10, report.ItemsCollected)

	items, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, items, 10)

	seen := map[string]bool{}
	for i, p := range items {
		assert.False(t, seen[p.ID], "duplicate item %s", p.ID)
		seen[p.ID] = true
		if i > 0 {
			assert.False(t, p.CreatedAt.After(items[i-1].CreatedAt), "items must be reverse-chronological")
		}
	}
}

func TestPopularResultsSortedByEngagement(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{results: []fetchResult{
		{page: xapi.Page{Posts: []xapi.Post{
			{ID: "a", CreatedAt: base, Engagement: xapi.Engagement{Likes: 1}},
			{ID: "b", CreatedAt: base.Add(-time.Minute), Engagement: xapi.Engagement{Likes: 3, Reposts: 2}},
			{ID: "c", CreatedAt: base.Add(-2 * time.Minute), Engagement: xapi.Engagement{Replies: 3}},
		}}},
	}}
	svc, enq, _ := newTestService(gw, &fakeSessions{})

	id, err := svc.Submit(context.Background(), SubmitRequest{
		Mode:           query.ModePopular,
		AccountID:      "alice",
		Secret:         "s3cret",
		Parameters:     query.Params{Query: "#golang"},
		RequestedCount: 3,
	})
	require.NoError(t, err)
	runEnqueued(t, svc, enq)

	items, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
	assert.Equal(t, "a", items[2].ID)
}

func TestRateLimitExhaustionFailsTask(t *testing.T) {
	throttled := xapi.NewError(xapi.KindRateLimit, "slow down")
	gw := &fakeGateway{results: []fetchResult{
		{page: xapi.Page{Posts: timelinePosts(5, 0), NextCursor: "c1"}},
		{err: throttled},
		{err: throttled},
		{err: throttled},
	}}
	svc, enq, _ := newTestService(gw, &fakeSessions{})

	id, err := svc.Submit(context.Background(), timelineRequest(10))
	require.NoError(t, err)
	runEnqueued(t, svc, enq)

	report, err := svc.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.Equal(t, 5, report.ItemsCollected, "progress reflects the first page only")

	_, err = svc.Result(context.Background(), id)
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindRateLimit))
}

func TestAuthRejectionFailsTask(t *testing.T) {
	sessions := &fakeSessions{authErr: xapi.NewError(xapi.KindAuth, "bad credentials")}
	svc, enq, _ := newTestService(&fakeGateway{}, sessions)

	id, err := svc.Submit(context.Background(), timelineRequest(10))
	require.NoError(t, err)
	runEnqueued(t, svc, enq)

	_, err = svc.Result(context.Background(), id)
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindAuth))
}

func TestCancelDiscardsPartialResults(t *testing.T) {
	gw := &fakeGateway{results: []fetchResult{
		{page: xapi.Page{Posts: timelinePosts(5, 0), NextCursor: "c1"}, delay: 30 * time.Millisecond},
		{page: xapi.Page{Posts: timelinePosts(5, 5), NextCursor: "c2"}, delay: 30 * time.Millisecond},
	}}
	svc, enq, _ := newTestService(gw, &fakeSessions{})

	id, err := svc.Submit(context.Background(), timelineRequest(10))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), id))

	runEnqueued(t, svc, enq)

	report, err := svc.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.Equal(t, 0, report.ItemsCollected, "partial results are discarded on cancellation")

	_, err = svc.Result(context.Background(), id)
	require.Error(t, err)
	assert.True(t, xapi.IsKind(err, xapi.KindCancelled))
}

func TestCancelFinishedTask(t *testing.T) {
	gw := &fakeGateway{results: []fetchResult{
		{page: xapi.Page{Posts: timelinePosts(5, 0), NextCursor: ""}},
	}}
	svc, enq, _ := newTestService(gw, &fakeSessions{})

	id, err := svc.Submit(context.Background(), timelineRequest(5))
	require.NoError(t, err)
	runEnqueued(t, svc, enq)

	err = svc.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, task.ErrFinished)
}

func TestProgressUnknownTask(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{}, &fakeSessions{})
	_, err := svc.Progress(context.Background(), "nope")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestExportCSV(t *testing.T) {
	items := []xapi.Post{
		{
			ID:         "1",
			Author:     "alice",
			AuthorID:   "99",
			Text:       "line one\nline two",
			CreatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			URL:        "https://twitter.com/alice/status/1",
			Engagement: xapi.Engagement{Reposts: 1, Likes: 2, Replies: 3},
		},
	}
	b, err := exportCSV(items)
	require.NoError(t, err)

	out := string(b)
	assert.True(t, len(b) > 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF, "export starts with a UTF-8 BOM")
	assert.Contains(t, out, "created_at,author,author_id,post_id,text,reposts,likes,replies,url")
	assert.Contains(t, out, "line one line two", "newlines are flattened")
	assert.NotContains(t, out[3:], "\nline two")
}
