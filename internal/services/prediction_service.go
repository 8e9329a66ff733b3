package services

import (
	"context"
	"encoding/json"
	"errors"

	"seedream-proxy/internal/upstream"
)

// PredictionFetcher is the part of the Replicate adapter the status poller needs.
type PredictionFetcher interface {
	GetPrediction(ctx context.Context, id string) (*upstream.Response, error)
}

type PredictionService struct {
	fetcher PredictionFetcher
}

func NewPredictionService(fetcher PredictionFetcher) *PredictionService {
	return &PredictionService{fetcher: fetcher}
}

// GetStatus returns the upstream status code and document for a prediction.
// A terminal upstream status is returned as a result, not an error, so the
// caller can relay it. Transport failures and exhausted retries are errors.
func (s *PredictionService) GetStatus(ctx context.Context, id string) (int, any, error) {
	resp, err := s.fetcher.GetPrediction(ctx, id)
	if err != nil {
		var retryErr *upstream.RetryError
		if errors.As(err, &retryErr) {
			return 0, nil, err
		}
		if statusErr, ok := upstream.AsStatusError(err); ok {
			return statusErr.StatusCode, ParseBody(statusErr.Body), nil
		}
		return 0, nil, err
	}
	return resp.StatusCode, ParseBody(resp.Body), nil
}

// ParseBody decodes a JSON body, falling back to the raw text.
func ParseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
