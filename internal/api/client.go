// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"jobmarket-client/internal/common/config"
	apperrors "jobmarket-client/internal/common/errors"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/common/metrics"
	"jobmarket-client/internal/models"
)

// Client is the resilient outbound request layer. All calls go through
// endpoint discovery; GETs are deduplicated within the cache TTL; a
// rate-limit response is retried exactly once.
type Client struct {
	httpClient       *http.Client
	discoverer       *Discoverer
	cache            *requestCache
	scheduler        gocron.Scheduler
	logger           logger.Logger
	maxRateLimitWait time.Duration

	mu           sync.Mutex
	sessionToken string
}

func NewClient(apiCfg config.APIConfig, cacheCfg config.CacheConfig, log logger.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: config.GetDuration(apiCfg.Timeout)}

	candidates := apiCfg.DiscoveryEndpoints
	if len(candidates) == 0 {
		candidates = []string{apiCfg.BaseURL}
	}

	c := &Client{
		httpClient:       httpClient,
		discoverer:       NewDiscoverer(candidates, httpClient, log),
		cache:            newRequestCache(config.GetDuration(cacheCfg.TTL)),
		logger:           log.WithFields(map[string]interface{}{"component": "api"}),
		maxRateLimitWait: config.GetDuration(apiCfg.RateLimitMaxWait),
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cache sweep scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(config.GetDuration(cacheCfg.SweepInterval)),
		gocron.NewTask(func() { c.cache.sweep() }),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule cache sweep: %w", err)
	}
	scheduler.Start()
	c.scheduler = scheduler

	return c, nil
}

// Endpoints exposes the discoverer so the push channel can share endpoint
// resolution with the request layer.
func (c *Client) Endpoints() *Discoverer {
	return c.discoverer
}

func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	c.sessionToken = token
	c.mu.Unlock()
}

func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *Client) Close() error {
	if c.scheduler != nil {
		return c.scheduler.Shutdown()
	}
	return nil
}

// Get issues a GET, sharing one underlying call between identical requests
// issued within the cache TTL window.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	key := http.MethodGet + " " + path

	entry, owner := c.cache.begin(key)
	if !owner {
		metrics.RequestCacheHits.Inc()
		select {
		case <-entry.done:
			return entry.value, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	metrics.RequestCacheMisses.Inc()
	value, err := c.do(ctx, http.MethodGet, path, nil)
	c.cache.finish(key, entry, value, err)
	return value, err
}

func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

func (c *Client) PutJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, payload)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	out, err := c.sendOnce(ctx, method, path, body)

	var rl *apperrors.RateLimitError
	if stderrors.As(err, &rl) {
		metrics.RateLimitRetries.Inc()

		wait := rl.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		if wait > c.maxRateLimitWait {
			wait = c.maxRateLimitWait
		}

		c.logger.Warn("rate limited, retrying once", map[string]interface{}{
			"method": method,
			"path":   path,
			"wait":   wait.String(),
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		// A second rate-limit response propagates to the caller.
		out, err = c.sendOnce(ctx, method, path, body)
	}

	return out, err
}

// sendOnce performs one logical call: current endpoint first, and on a
// network-class failure one rediscovery plus one retry against the newly
// resolved address. HTTP error responses are never retried here.
func (c *Client) sendOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	resp, err := c.send(ctx, c.discoverer.Current(), method, path, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn("request failed, rediscovering endpoint", map[string]interface{}{
			"method": method,
			"path":   path,
			"error":  err.Error(),
		})

		newBase, derr := c.discoverer.Discover(ctx)
		if derr != nil {
			return nil, apperrors.NewTransportError(err)
		}
		resp, err = c.send(ctx, newBase, method, path, body)
		if err != nil {
			return nil, apperrors.NewTransportError(err)
		}
	}
	return c.handleResponse(resp)
}

func (c *Client) send(ctx context.Context, base, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.SessionToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) handleResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &apperrors.RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}

	case resp.StatusCode == http.StatusUnauthorized:
		// The session token is no longer valid; drop it so the UI layer
		// can re-authenticate.
		c.SetSessionToken("")
		return nil, apperrors.NewAuthRejectedError(string(respBody))

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, apperrors.NewValidationError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ParseRetryAfter parses a Retry-After header value as either seconds
// (integer) or an HTTP-date (RFC 7231). Returns zero if unparseable or if
// the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// --- Domain helpers ---

// UpdateApplicationStatus persists a status change through the entity store.
func (c *Client) UpdateApplicationStatus(ctx context.Context, id, status, notes string) (*models.Application, error) {
	out, err := c.PutJSON(ctx, fmt.Sprintf("/applications/%s/status", id), map[string]string{
		"status": status,
		"notes":  notes,
	})
	if err != nil {
		return nil, err
	}

	var app models.Application
	if err := json.Unmarshal(out, &app); err != nil || app.ID == "" {
		// Some deployments answer with an empty body; fall back to the
		// fields we just wrote.
		return &models.Application{ID: id, Status: status, Notes: notes}, nil
	}
	return &app, nil
}

// MyJobApplications fetches the caller's applications (cached GET).
func (c *Client) MyJobApplications(ctx context.Context) ([]models.Application, error) {
	out, err := c.Get(ctx, "/applications/my-jobs-applications")
	if err != nil {
		return nil, err
	}

	var apps []models.Application
	if err := json.Unmarshal(out, &apps); err != nil {
		return nil, fmt.Errorf("decode applications: %w", err)
	}
	return apps, nil
}

// SendEmailNotification dispatches an email through the notification
// collaborator service.
func (c *Client) SendEmailNotification(ctx context.Context, to, subject, body string, isHTML bool) error {
	_, err := c.PostJSON(ctx, "/notifications/email", map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    body,
		"isHtml":  isHTML,
	})
	return err
}
