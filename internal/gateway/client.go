package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/chat"
	"github.com/troikatech/chatwidget/internal/model/widget"
)

const (
	defaultTimeout         = 15 * time.Second
	defaultConfigCacheSize = 128
	defaultConfigCacheTTL  = 5 * time.Minute
	maxResponseBytes       = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client

	// RequestsPerSecond caps outgoing calls; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int

	ConfigCacheSize int
	ConfigCacheTTL  time.Duration

	Metrics *metrics.Metrics
}

type cachedConfig struct {
	config   widget.Config
	storedAt time.Time
}

// Client talks to the chatbot REST API. It implements the session, pipeline
// and widget gateway interfaces.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	cache    *lru.Cache[string, cachedConfig]
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds a client for the API rooted at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	size := opts.ConfigCacheSize
	if size <= 0 {
		size = defaultConfigCacheSize
	}
	cache, err := lru.New[string, cachedConfig](size)
	if err != nil {
		return nil, errors.Wrap(err, "create project config cache")
	}
	ttl := opts.ConfigCacheTTL
	if ttl <= 0 {
		ttl = defaultConfigCacheTTL
	}

	return &Client{
		baseURL:  base,
		http:     httpClient,
		limiter:  limiter,
		cache:    cache,
		cacheTTL: ttl,
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateSession opens a backend session for projectID and returns its id.
func (c *Client) CreateSession(ctx context.Context, projectID string) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
		ID        string `json:"session_id"`
	}
	body := map[string]string{"projectId": projectID}
	if err := c.do(ctx, "create_session", http.MethodPost, "/chatbot/session", body, nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	return resp.ID, nil
}

// SendMessage forwards a user message and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Reply, error) {
	var resp struct {
		Message string   `json:"message"`
		Sources []string `json:"sources"`
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, "send_message", http.MethodPost, "/chatbot/message", req, headers, &resp); err != nil {
		return chat.Reply{}, err
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	return chat.Reply{Message: resp.Message, Sources: resp.Sources}, nil
}

// SessionHistory returns the backend's ordered transcript for sessionID.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var raw json.RawMessage
	path := "/chatbot/session/" + url.PathEscape(sessionID) + "/history"
	if err := c.do(ctx, "session_history", http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeHistory(raw)
}

// EndSession tells the backend the session is over.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	path := "/chatbot/session/" + url.PathEscape(sessionID) + "/end"
	return c.do(ctx, "end_session", http.MethodPost, path, nil, nil, nil)
}

// ProjectConfig returns the widget defaults stored for projectID, merged
// over the canonical defaults. Results are cached per project.
func (c *Client) ProjectConfig(ctx context.Context, projectID string) (widget.Config, error) {
	if entry, ok := c.cache.Get(projectID); ok {
		if c.now().Sub(entry.storedAt) < c.cacheTTL {
			return entry.config, nil
		}
		c.cache.Remove(projectID)
	}

	var raw json.RawMessage
	path := "/chatbot/project/" + url.PathEscape(projectID) + "/config"
	if err := c.do(ctx, "project_config", http.MethodGet, path, nil, nil, &raw); err != nil {
		return widget.Config{}, err
	}
	patch, err := decodeProjectConfig(raw)
	if err != nil {
		return widget.Config{}, errors.Wrapf(err, "decode config for project %s", projectID)
	}

	cfg := widget.FromPatch(patch)
	c.cache.Add(projectID, cachedConfig{config: cfg, storedAt: c.now()})
	return cfg, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) error {
	start := c.now()
	status := "error"
	defer func() {
		c.metrics.ObserveGateway(op, status, c.now().Sub(start))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrapf(err, "%s: rate limiter", op)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s: encode request", op)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: %s %s", op, method, path)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return errors.Wrapf(err, "%s: read response", op)
	}
	if len(data) > maxResponseBytes {
		return fmt.Errorf("%s: response exceeded %d bytes", op, maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Operation: op, StatusCode: resp.StatusCode, Message: errorText(data)}
		log.Debug().
			Str("component", "gateway").
			Str("operation", op).
			Int("status", resp.StatusCode).
			Msg(statusErr.Message)
		return statusErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}
