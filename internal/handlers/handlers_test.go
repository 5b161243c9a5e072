package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/data"
	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/observability/notify"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// listStore serves canned definitions to handlers that only read.
type listStore struct {
	jobs    []model.JobDefinition
	listErr error
}

func (s *listStore) Get(_ context.Context, id string) (*model.JobDefinition, error) {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return &s.jobs[i], nil
		}
	}
	return nil, model.ErrJobNotFound
}

func (s *listStore) List(_ context.Context, tenant string) ([]model.JobDefinition, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if tenant == "" {
		return s.jobs, nil
	}
	var out []model.JobDefinition
	for _, j := range s.jobs {
		if j.Tenant == tenant {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *listStore) FindDue(context.Context, time.Time, int) ([]model.JobDefinition, error) {
	return nil, nil
}

func (s *listStore) MarkRunning(context.Context, string, time.Time) (*model.JobDefinition, error) {
	return nil, errors.New("not supported")
}

func (s *listStore) ApplyTransition(context.Context, string, domainjob.Transition) (*model.JobDefinition, error) {
	return nil, errors.New("not supported")
}

func tenantJob(id, tenant string, status model.JobStatus, errorCount int, lastRunAgo time.Duration) model.JobDefinition {
	j := model.JobDefinition{
		ID:         id,
		Tenant:     tenant,
		JobType:    "demo",
		Schedule:   model.IntervalSchedule(time.Hour, nil),
		Status:     status,
		ErrorCount: errorCount,
	}
	if lastRunAgo >= 0 {
		t := testNow.Add(-lastRunAgo)
		j.LastRunAt = &t
	}
	return j
}

func TestRiskSnapshotAggregatesTenantJobs(t *testing.T) {
	store := &listStore{jobs: []model.JobDefinition{
		tenantJob("snapshot-acme", "acme", model.JobStatusRunning, 0, time.Minute),
		tenantJob("healthy", "acme", model.JobStatusActive, 0, time.Hour),
		tenantJob("flaky", "acme", model.JobStatusFailed, 3, 2*time.Hour),
		tenantJob("never-ran", "acme", model.JobStatusActive, 0, -1),
		tenantJob("dormant", "acme", model.JobStatusPaused, 0, 96*time.Hour),
		tenantJob("other-tenant", "globex", model.JobStatusActive, 5, time.Hour),
	}}

	h, err := NewRiskSnapshotHandler(RiskSnapshotOptions{
		Store:        store,
		Config:       config.RiskSnapshotConfig{MaxResultAge: 48 * time.Hour},
		TimeProvider: data.NewFixedTimeProvider(testNow),
	})
	require.NoError(t, err)

	res, err := h.Execute(context.Background(), tenantJob("snapshot-acme", "acme", model.JobStatusRunning, 0, time.Minute))
	require.NoError(t, err)
	require.True(t, res.Success)

	var snap riskSnapshot
	require.NoError(t, json.Unmarshal(res.Detail, &snap))

	assert.Equal(t, "acme", snap.Tenant)
	assert.Equal(t, 4, snap.TotalJobs, "the snapshot job itself is excluded")
	assert.Equal(t, []string{"flaky"}, snap.Failing)
	assert.Equal(t, []string{"never-ran"}, snap.Stale, "paused jobs are not flagged stale")
	assert.Equal(t, 2, snap.ByStatus[string(model.JobStatusActive)])
	assert.Equal(t, 1, snap.ByStatus[string(model.JobStatusFailed)])
}

func TestRiskSnapshotListFailure(t *testing.T) {
	h, err := NewRiskSnapshotHandler(RiskSnapshotOptions{
		Store:        &listStore{listErr: errors.New("db down")},
		TimeProvider: data.NewFixedTimeProvider(testNow),
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), tenantJob("snapshot-acme", "acme", model.JobStatusRunning, 0, 0))
	require.ErrorContains(t, err, "db down")
}

func TestDigestNotifyFiltersAndSends(t *testing.T) {
	store := &listStore{jobs: []model.JobDefinition{
		tenantJob("healthy", "acme", model.JobStatusActive, 0, time.Hour),
		tenantJob("flaky", "acme", model.JobStatusFailed, 3, 2*time.Hour),
		tenantJob("below-threshold", "acme", model.JobStatusFailed, 1, time.Hour),
		tenantJob("old-failure", "acme", model.JobStatusFailed, 4, 72*time.Hour),
	}}

	var mu sync.Mutex
	var sent []notify.JobFailurePayload
	sink := notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, p)
		return nil
	})

	h, err := NewDigestNotifyHandler(DigestNotifyOptions{
		Store:        store,
		Sink:         sink,
		Config:       config.DigestNotifyConfig{Window: 24 * time.Hour, MinErrorCount: 2},
		TimeProvider: data.NewFixedTimeProvider(testNow),
	})
	require.NoError(t, err)

	res, err := h.Execute(context.Background(), tenantJob("digest-acme", "acme", model.JobStatusRunning, 0, 0))
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, sent, 1)
	assert.Equal(t, "flaky", sent[0].JobID)
	assert.Equal(t, notify.SeverityWarning, sent[0].Severity)
	assert.Equal(t, 3, sent[0].ErrorCount)
	assert.Equal(t, "digest-acme", sent[0].Metadata["digest_job"])
	assert.Contains(t, res.Message, "notified 1 failing jobs")
}

func TestDigestNotifySinkFailureFailsRun(t *testing.T) {
	store := &listStore{jobs: []model.JobDefinition{
		tenantJob("flaky", "acme", model.JobStatusFailed, 3, time.Hour),
	}}
	sink := notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
		return errors.New("webhook down")
	})

	h, err := NewDigestNotifyHandler(DigestNotifyOptions{
		Store:        store,
		Sink:         sink,
		TimeProvider: data.NewFixedTimeProvider(testNow),
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), tenantJob("digest-acme", "acme", model.JobStatusRunning, 0, 0))
	require.ErrorContains(t, err, "webhook down")
}

// memoryFeedCache is a map-backed core.FeedCache for handler tests.
type memoryFeedCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryFeedCache() *memoryFeedCache {
	return &memoryFeedCache{entries: make(map[string][]byte)}
}

func (c *memoryFeedCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memoryFeedCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func TestFeedCheckCachesValidatorAcrossPolls(t *testing.T) {
	const etag = `"v42"`
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(`{"advisories":3}`))
	}))
	defer srv.Close()

	cache := newMemoryFeedCache()
	h, err := NewFeedCheckHandler(FeedCheckOptions{
		Cache:  cache,
		Config: config.FeedCheckConfig{URL: srv.URL, Timeout: 5 * time.Second, CacheTTL: time.Hour},
	})
	require.NoError(t, err)

	job := tenantJob("feed-ofac", "acme", model.JobStatusRunning, 0, 0)

	// First poll downloads the feed and stores the validator.
	res, err := h.Execute(context.Background(), job)
	require.NoError(t, err)
	require.True(t, res.Success)

	var detail feedCheckDetail
	require.NoError(t, json.Unmarshal(res.Detail, &detail))
	assert.True(t, detail.Changed)
	assert.Equal(t, etag, detail.ETag)

	// Second poll sends If-None-Match and short-circuits on 304.
	res, err = h.Execute(context.Background(), job)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, json.Unmarshal(res.Detail, &detail))
	assert.False(t, detail.Changed)
	assert.Equal(t, "feed unchanged", res.Message)
	assert.Equal(t, 2, requests)
}

func TestFeedCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h, err := NewFeedCheckHandler(FeedCheckOptions{
		Cache:  newMemoryFeedCache(),
		Config: config.FeedCheckConfig{URL: srv.URL},
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), tenantJob("feed-ofac", "acme", model.JobStatusRunning, 0, 0))
	require.ErrorContains(t, err, "unexpected status 500")
}

func TestFeedCheckRequiresURL(t *testing.T) {
	_, err := NewFeedCheckHandler(FeedCheckOptions{Cache: newMemoryFeedCache()})
	require.ErrorContains(t, err, "feed url is required")
}
