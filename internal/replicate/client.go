package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"seedream-proxy/internal/upstream"
)

var (
	ErrMissingToken      = errors.New("REPLICATE_API_TOKEN is not configured")
	ErrNoVersion         = errors.New("model metadata has no latest version")
	ErrMalformedResponse = errors.New("malformed upstream response")
)

type Options struct {
	BaseURL         string
	Token           string
	Model           string // owner/name
	PreferWait      string // value of the Prefer header on creates; empty omits it
	Schema          Schema
	Caller          upstream.Caller
	VersionCacheTTL time.Duration
	Logger          *zap.Logger
}

// Client talks to the Replicate predictions API for a single model.
type Client struct {
	baseURL    string
	token      string
	model      string
	preferWait string
	schema     Schema
	caller     upstream.Caller
	versions   *VersionCache
	logger     *zap.Logger
}

func NewClient(opts Options) (*Client, error) {
	owner, name, ok := strings.Cut(opts.Model, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("model must be in owner/name form, got %q", opts.Model)
	}
	if opts.Caller == nil {
		return nil, fmt.Errorf("upstream caller is required")
	}
	if opts.Schema.PromptField == "" {
		return nil, fmt.Errorf("input schema is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		token:      opts.Token,
		model:      opts.Model,
		preferWait: opts.PreferWait,
		schema:     opts.Schema,
		caller:     opts.Caller,
		versions:   NewVersionCache(opts.VersionCacheTTL),
		logger:     opts.Logger,
	}, nil
}

func (c *Client) HasToken() bool { return c.token != "" }

func (c *Client) Model() string { return c.model }

// Versions exposes the latest-version cache for explicit invalidation.
func (c *Client) Versions() *VersionCache { return c.versions }

// CreatePrediction creates exactly one upstream job. It tries the model-scoped
// endpoint first and falls back to the versioned endpoint when the direct path
// answers 400, 404 or 405. Retrying is left to the upstream caller.
func (c *Client) CreatePrediction(ctx context.Context, in PredictionInput) (*Prediction, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}

	input := c.schema.BuildInput(in)
	body, err := json.Marshal(createRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.caller.Call(ctx, c.modelURL()+"/predictions", upstream.RequestSpec{
		Method: http.MethodPost,
		Header: c.headers(true),
		Body:   body,
	}, "replicate create (direct)")
	if err == nil {
		return decodePrediction(resp.Body)
	}
	if !directPathUnsupported(err) {
		return nil, fmt.Errorf("failed to create prediction: %w", err)
	}

	c.logger.Info("direct create path unavailable, falling back to versioned create",
		zap.String("model", c.model),
		zap.Error(err),
	)
	return c.createVersioned(ctx, input)
}

func (c *Client) createVersioned(ctx context.Context, input map[string]any) (*Prediction, error) {
	version, err := c.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(createRequest{Version: version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.caller.Call(ctx, c.baseURL+"/predictions", upstream.RequestSpec{
		Method: http.MethodPost,
		Header: c.headers(true),
		Body:   body,
	}, "replicate create (versioned)")
	if err != nil {
		if statusErr, ok := upstream.AsStatusError(err); ok && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			c.versions.Invalidate()
		}
		return nil, fmt.Errorf("failed to create versioned prediction: %w", err)
	}
	return decodePrediction(resp.Body)
}

// LatestVersion returns the model's latest version id, from the cache when it
// is still fresh.
func (c *Client) LatestVersion(ctx context.Context) (string, error) {
	if id, ok := c.versions.Get(); ok {
		return id, nil
	}
	if c.token == "" {
		return "", ErrMissingToken
	}

	resp, err := c.caller.Call(ctx, c.modelURL(), upstream.RequestSpec{
		Method: http.MethodGet,
		Header: c.headers(false),
	}, "replicate model metadata")
	if err != nil {
		return "", fmt.Errorf("failed to get model metadata: %w", err)
	}

	var model modelResponse
	if err := json.Unmarshal(resp.Body, &model); err != nil {
		return "", fmt.Errorf("failed to decode model metadata: %w: %v", ErrMalformedResponse, err)
	}
	if model.LatestVersion == nil || model.LatestVersion.ID == "" {
		return "", fmt.Errorf("%s: %w", c.model, ErrNoVersion)
	}

	c.versions.Set(model.LatestVersion.ID)
	return model.LatestVersion.ID, nil
}

// GetPrediction fetches the raw status document for a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*upstream.Response, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	return c.caller.Call(ctx, c.baseURL+"/predictions/"+url.PathEscape(id), upstream.RequestSpec{
		Method: http.MethodGet,
		Header: c.headers(false),
	}, "replicate get prediction")
}

// CancelPrediction asks Replicate to stop a running prediction.
func (c *Client) CancelPrediction(ctx context.Context, id string) error {
	if c.token == "" {
		return ErrMissingToken
	}
	_, err := c.caller.Call(ctx, c.baseURL+"/predictions/"+url.PathEscape(id)+"/cancel", upstream.RequestSpec{
		Method: http.MethodPost,
		Header: c.headers(false),
	}, "replicate cancel prediction")
	if err != nil {
		return fmt.Errorf("failed to cancel prediction %s: %w", id, err)
	}
	return nil
}

func (c *Client) modelURL() string {
	return c.baseURL + "/models/" + c.model
}

func (c *Client) headers(create bool) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if create {
		h.Set("Content-Type", "application/json")
		if c.preferWait != "" {
			h.Set("Prefer", c.preferWait)
		}
	}
	return h
}

func directPathUnsupported(err error) bool {
	statusErr, ok := upstream.AsStatusError(err)
	if !ok {
		return false
	}
	switch statusErr.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed:
		return true
	}
	return false
}

func decodePrediction(body []byte) (*Prediction, error) {
	var prediction Prediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w: %v", ErrMalformedResponse, err)
	}
	if prediction.ID == "" || prediction.Status == "" {
		return nil, fmt.Errorf("prediction without id or status: %w", ErrMalformedResponse)
	}
	return &prediction, nil
}
