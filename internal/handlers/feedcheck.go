package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// JobTypeFeedCheck is the registry key for the regulatory feed handler.
const JobTypeFeedCheck = "feedCheck"

// feedBodyLimit caps how much of a feed response is read. Feeds are
// metadata documents; anything larger indicates a misconfigured URL.
const feedBodyLimit = 4 << 20

// FeedCheckOptions configures the regulatory feed polling handler.
type FeedCheckOptions struct {
	Cache      core.FeedCache
	Config     config.FeedCheckConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FeedCheckHandler polls a regulatory feed endpoint and records whether its
// content changed since the previous poll. The feed's ETag is cached between
// runs so unchanged feeds cost a conditional request and nothing more.
type FeedCheckHandler struct {
	cache    core.FeedCache
	url      string
	cacheTTL time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewFeedCheckHandler constructs a feed polling handler.
func NewFeedCheckHandler(opts FeedCheckOptions) (*FeedCheckHandler, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("feed cache is required")
	}
	if opts.Config.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	cacheTTL := opts.Config.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FeedCheckHandler{
		cache:    opts.Cache,
		url:      opts.Config.URL,
		cacheTTL: cacheTTL,
		client:   client,
		logger:   logger.With("component", "feed_check_handler"),
	}, nil
}

// feedCheckDetail is the structured outcome of one poll.
type feedCheckDetail struct {
	URL       string `json:"url"`
	Changed   bool   `json:"changed"`
	ETag      string `json:"etag,omitempty"`
	BodyBytes int    `json:"body_bytes,omitempty"`
}

// Execute polls the feed with a conditional GET. A 304 response means the
// feed is unchanged and the run succeeds without downloading anything; a 200
// response stores the new validator for the next poll.
func (h *FeedCheckHandler) Execute(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error) {
	cacheKey := feedCacheKey(job)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("build feed request: %w", err)
	}

	cached, err := h.cache.Get(ctx, cacheKey)
	if err != nil {
		// A cold or unreachable cache degrades to an unconditional poll.
		h.logger.WarnContext(ctx, "feed validator cache read failed", "job_id", job.ID, "error", err)
	} else if len(cached) > 0 {
		req.Header.Set("If-None-Match", string(cached))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("poll feed %s: %w", h.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close, nothing to recover

	switch resp.StatusCode {
	case http.StatusNotModified:
		return h.result(ctx, job, feedCheckDetail{URL: h.url, Changed: false, ETag: string(cached)})

	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, feedBodyLimit))
		if readErr != nil {
			return model.ExecutionResult{}, fmt.Errorf("read feed body: %w", readErr)
		}

		etag := resp.Header.Get("ETag")
		if etag != "" {
			if setErr := h.cache.Set(ctx, cacheKey, []byte(etag), h.cacheTTL); setErr != nil {
				h.logger.WarnContext(ctx, "feed validator cache write failed", "job_id", job.ID, "error", setErr)
			}
		}

		return h.result(ctx, job, feedCheckDetail{
			URL:       h.url,
			Changed:   true,
			ETag:      etag,
			BodyBytes: len(body),
		})

	default:
		return model.ExecutionResult{}, fmt.Errorf("poll feed %s: unexpected status %d", h.url, resp.StatusCode)
	}
}

func (h *FeedCheckHandler) result(ctx context.Context, job model.JobDefinition, detail feedCheckDetail) (model.ExecutionResult, error) {
	encoded, err := json.Marshal(detail)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("encode feed detail: %w", err)
	}

	msg := "feed unchanged"
	if detail.Changed {
		msg = fmt.Sprintf("feed changed, %d bytes fetched", detail.BodyBytes)
	}

	h.logger.InfoContext(ctx, "feed poll complete",
		"job_id", job.ID,
		"url", detail.URL,
		"changed", detail.Changed,
	)

	return model.ExecutionResult{Success: true, Message: msg, Detail: encoded}, nil
}

// feedCacheKey scopes the validator to the job so two feed jobs polling the
// same URL with different schedules do not share staleness.
func feedCacheKey(job model.JobDefinition) string {
	return "etag:" + job.ID
}
