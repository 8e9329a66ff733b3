package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seedream-proxy/internal/services"
	"seedream-proxy/internal/upstream"
)

type fakeFetcher struct {
	resp *upstream.Response
	err  error
	ids  []string
}

func (f *fakeFetcher) GetPrediction(ctx context.Context, id string) (*upstream.Response, error) {
	f.ids = append(f.ids, id)
	return f.resp, f.err
}

func TestGetStatus_JSONPassthrough(t *testing.T) {
	fetcher := &fakeFetcher{resp: &upstream.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"id":"p1","status":"processing","output":null}`),
	}}
	svc := services.NewPredictionService(fetcher)

	status, body, err := svc.GetStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"id": "p1", "status": "processing", "output": nil}, body)
	assert.Equal(t, []string{"p1"}, fetcher.ids)
}

func TestGetStatus_RawBodyWhenNotJSON(t *testing.T) {
	fetcher := &fakeFetcher{resp: &upstream.Response{StatusCode: http.StatusOK, Body: []byte("not json")}}
	svc := services.NewPredictionService(fetcher)

	_, body, err := svc.GetStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "not json", body)
}

func TestGetStatus_TerminalStatusIsPreserved(t *testing.T) {
	fetcher := &fakeFetcher{err: &upstream.StatusError{
		Label:      "replicate get prediction",
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"detail":"Not found."}`),
	}}
	svc := services.NewPredictionService(fetcher)

	status, body, err := svc.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, map[string]any{"detail": "Not found."}, body)
}

func TestGetStatus_ExhaustedRetriesIsError(t *testing.T) {
	fetcher := &fakeFetcher{err: &upstream.RetryError{
		Label:    "replicate get prediction",
		Attempts: 5,
		Last:     &upstream.StatusError{StatusCode: http.StatusServiceUnavailable},
	}}
	svc := services.NewPredictionService(fetcher)

	_, _, err := svc.GetStatus(context.Background(), "p1")
	assert.Error(t, err)
}

func TestGetStatus_TransportError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	svc := services.NewPredictionService(fetcher)

	_, _, err := svc.GetStatus(context.Background(), "p1")
	assert.Error(t, err)
}
