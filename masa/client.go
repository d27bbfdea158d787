package masa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/toolmesh/logging"
)

// DefaultBaseURL points at the hosted Masa Data API.
const DefaultBaseURL = "https://data.dev.masalabs.ai"

// Search job states reported by the status endpoint.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

const (
	searchPath   = "/api/v1/search/live/twitter"
	statusPath   = "/api/v1/search/live/twitter/status/"
	resultPath   = "/api/v1/search/live/twitter/result/"
	analysisPath = "/api/v1/search/analysis"
)

// Tweet is a single hit returned by a completed search job. The API
// capitalizes its field names.
type Tweet struct {
	ID         string         `json:"ID,omitempty"`
	ExternalID string         `json:"ExternalID,omitempty"`
	Content    string         `json:"Content"`
	Metadata   map[string]any `json:"Metadata,omitempty"`
}

// Options configures the Masa API client.
type Options struct {
	// BaseURL overrides the API host, e.g. for a self-hosted deployment.
	BaseURL string

	// HTTPClient is used for all requests. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Logger receives request and polling events.
	Logger logging.Logger

	// PollInterval is the delay between search status checks.
	PollInterval time.Duration

	// MaxPollAttempts bounds how many status checks WaitForSearch makes
	// before giving up.
	MaxPollAttempts int
}

// WithBaseURL overrides the API host.
func WithBaseURL(baseURL string) func(o *Options) {
	return func(o *Options) {
		o.BaseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) func(o *Options) {
	return func(o *Options) {
		o.HTTPClient = httpClient
	}
}

// WithLogger sets the logger used for request and polling events.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithPollInterval sets the delay between search status checks.
func WithPollInterval(interval time.Duration) func(o *Options) {
	return func(o *Options) {
		o.PollInterval = interval
	}
}

// WithMaxPollAttempts bounds how many status checks WaitForSearch makes.
func WithMaxPollAttempts(attempts int) func(o *Options) {
	return func(o *Options) {
		o.MaxPollAttempts = attempts
	}
}

// Client talks to the Masa Data API: it submits live Twitter search
// jobs, polls them to completion, fetches their results, and runs
// analysis prompts over collected tweets.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	logger          logging.Logger
	pollInterval    time.Duration
	maxPollAttempts int
}

// New creates a Masa API client. The API key is required; everything
// else has defaults.
func New(apiKey string, optFns ...func(o *Options)) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("masa api key is required")
	}

	opts := Options{
		BaseURL:         DefaultBaseURL,
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		PollInterval:    2 * time.Second,
		MaxPollAttempts: 30,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		apiKey:          apiKey,
		httpClient:      opts.HTTPClient,
		logger:          opts.Logger,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
	}, nil
}

// SubmitSearch starts a live Twitter search job and returns its job id.
func (c *Client) SubmitSearch(ctx context.Context, query string, maxResults int) (string, error) {
	payload := map[string]any{
		"query":       query,
		"max_results": maxResults,
	}

	var result struct {
		UUID string `json:"uuid"`
	}

	if err := c.post(ctx, searchPath, payload, &result); err != nil {
		return "", fmt.Errorf("failed to start twitter search job: %w", err)
	}

	if result.UUID == "" {
		return "", errors.New("failed to start twitter search job: no job id returned")
	}

	c.logger.Debug("masa.search.submitted", "job_id", result.UUID, "query", query, "max_results", maxResults)

	return result.UUID, nil
}

// SearchStatus reports the current state of a search job.
func (c *Client) SearchStatus(ctx context.Context, jobID string) (string, error) {
	var result struct {
		Status string `json:"status"`
	}

	if err := c.get(ctx, statusPath+jobID, &result); err != nil {
		return "", fmt.Errorf("failed to check search job status: %w", err)
	}

	return result.Status, nil
}

// SearchResults fetches the tweets collected by a completed search job.
func (c *Client) SearchResults(ctx context.Context, jobID string) ([]Tweet, error) {
	var tweets []Tweet

	if err := c.get(ctx, resultPath+jobID, &tweets); err != nil {
		return nil, fmt.Errorf("failed to fetch search results: %w", err)
	}

	return tweets, nil
}

// WaitForSearch polls a search job until it reports done. It fails fast
// when the job itself errors and gives up after MaxPollAttempts checks.
func (c *Client) WaitForSearch(ctx context.Context, jobID string) error {
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		status, err := c.SearchStatus(ctx, jobID)
		if err != nil {
			return err
		}

		c.logger.Debug("masa.search.status", "job_id", jobID, "status", status, "attempt", attempt)

		switch status {
		case StatusDone:
			return nil
		case StatusError:
			return fmt.Errorf("search job %q failed", jobID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return fmt.Errorf("search job %q did not complete after %d attempts", jobID, c.maxPollAttempts)
}

// Search submits a search job, waits for it to complete, and returns
// the collected tweets.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Tweet, error) {
	jobID, err := c.SubmitSearch(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	if err := c.WaitForSearch(ctx, jobID); err != nil {
		return nil, err
	}

	return c.SearchResults(ctx, jobID)
}

// Analyze runs an analysis prompt over a blob of tweet text and returns
// the analysis result.
func (c *Client) Analyze(ctx context.Context, tweets, prompt string) (string, error) {
	payload := map[string]any{
		"tweets": tweets,
		"prompt": prompt,
	}

	var result struct {
		Result   string `json:"result"`
		Analysis string `json:"analysis"`
	}

	if err := c.post(ctx, analysisPath, payload, &result); err != nil {
		return "", fmt.Errorf("failed to analyze tweets: %w", err)
	}

	// Older deployments answer with "analysis" instead of "result".
	text := result.Result
	if text == "" {
		text = result.Analysis
	}

	if text == "" {
		return "", errors.New("failed to analyze tweets: no analysis returned")
	}

	return text, nil
}

// JoinTweets flattens tweet contents into the newline separated blob
// the analysis endpoint expects.
func JoinTweets(tweets []Tweet) string {
	contents := make([]string, 0, len(tweets))
	for _, tweet := range tweets {
		contents = append(contents, tweet.Content)
	}

	return strings.Join(contents, "\n")
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, message)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
