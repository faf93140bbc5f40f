package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"

	"movierecommender/panel/internal/domain"
	"movierecommender/panel/internal/metrics"
)

const (
	defaultBaseURL   = "http://localhost:5000/api"
	maxResponseBytes = 1 << 20

	endpointSearch    = "search"
	endpointRecommend = "recommend"
	endpointHealth    = "health"
)

// ErrMalformedResponse is returned when the backend answers with a body that
// is not the expected JSON document.
var ErrMalformedResponse = errors.New("malformed backend response")

// ServiceError is a failure reported by the backend itself: a non-2xx status
// with a decodable body. Message is empty when the body carried no "error".
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend HTTP %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	inflight  *semaphore.Weighted
}

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	// MaxInFlight bounds concurrent backend calls across all panels. Zero
	// disables the bound.
	MaxInFlight int64
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	client := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      httpClient,
	}
	if cfg.MaxInFlight > 0 {
		client.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return client
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search returns the movie titles matching a partial query. A missing
// "movies" field yields an empty list, also on a non-2xx answer. Only a
// transport failure or an undecodable body is an error.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(req, endpointSearch)
	if err != nil {
		return nil, err
	}

	// Any decodable body is applied, whatever the status: an error envelope
	// carries no "movies" and so clears the list.
	var response domain.SearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpointSearch, "malformed").Inc()
		return nil, fmt.Errorf("decode search response (HTTP %d): %w", status, errors.Join(ErrMalformedResponse, err))
	}
	if isSuccess(status) {
		metrics.BackendRequestsTotal.WithLabelValues(endpointSearch, "ok").Inc()
	} else {
		metrics.BackendRequestsTotal.WithLabelValues(endpointSearch, "server_error").Inc()
	}
	if response.Movies == nil {
		return []string{}, nil
	}
	return response.Movies, nil
}

// Recommend posts the chosen title and returns the ranked list in response
// order. Server-reported failures come back as *ServiceError.
func (c *Client) Recommend(ctx context.Context, title string) ([]domain.Recommendation, error) {
	payload, err := json.Marshal(domain.RecommendRequest{MovieTitle: title})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recommend", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req, endpointRecommend)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, c.serviceError(endpointRecommend, status, body)
	}

	var response domain.RecommendResponse
	if err := json.Unmarshal(body, &response); err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpointRecommend, "malformed").Inc()
		return nil, fmt.Errorf("decode recommend response: %w", errors.Join(ErrMalformedResponse, err))
	}
	metrics.BackendRequestsTotal.WithLabelValues(endpointRecommend, "ok").Inc()
	if response.Recommendations == nil {
		return []domain.Recommendation{}, nil
	}
	return response.Recommendations, nil
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context) (domain.BackendHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return domain.BackendHealth{}, err
	}
	status, body, err := c.do(req, endpointHealth)
	if err != nil {
		return domain.BackendHealth{}, err
	}
	if !isSuccess(status) {
		return domain.BackendHealth{}, c.serviceError(endpointHealth, status, body)
	}
	var health domain.BackendHealth
	if err := json.Unmarshal(body, &health); err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpointHealth, "malformed").Inc()
		return domain.BackendHealth{}, fmt.Errorf("decode health response: %w", errors.Join(ErrMalformedResponse, err))
	}
	metrics.BackendRequestsTotal.WithLabelValues(endpointHealth, "ok").Inc()
	return health, nil
}

func (c *Client) do(req *http.Request, endpoint string) (int, []byte, error) {
	if c.inflight != nil {
		if err := c.inflight.Acquire(req.Context(), 1); err != nil {
			return 0, nil, err
		}
		defer c.inflight.Release(1)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return 0, nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return 0, nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return resp.StatusCode, body, nil
}

// serviceError decodes the {"error": "..."} envelope of a non-2xx answer. A
// body that is not JSON is treated as malformed rather than server-reported.
func (c *Client) serviceError(endpoint string, status int, body []byte) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "malformed").Inc()
		return fmt.Errorf("%s HTTP %d: %w", endpoint, status, errors.Join(ErrMalformedResponse, err))
	}
	metrics.BackendRequestsTotal.WithLabelValues(endpoint, "server_error").Inc()
	return &ServiceError{StatusCode: status, Message: envelope.Error}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
