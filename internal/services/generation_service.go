package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"seedream-proxy/internal/models"
	"seedream-proxy/internal/replicate"
)

const (
	MinReplicas = 1
	MaxReplicas = 4
)

var ErrEmptyPrompt = errors.New("prompt is required")

// PredictionCreator is the part of the Replicate adapter the batch
// orchestrator needs.
type PredictionCreator interface {
	HasToken() bool
	CreatePrediction(ctx context.Context, in replicate.PredictionInput) (*replicate.Prediction, error)
	CancelPrediction(ctx context.Context, id string) error
}

type GenerationRequest struct {
	Prompt            string
	ReplicaCount      int
	AspectRatio       string
	ReferenceImageURL string
}

// BatchResult holds one prediction per replica in submission order.
type BatchResult struct {
	Predictions []*replicate.Prediction
	Took        time.Duration
}

type GenerationService struct {
	creator         PredictionCreator
	cancelAbandoned bool
	logger          *zap.Logger

	// abandoned tracks failed batches whose siblings are still settling.
	abandoned sync.WaitGroup
}

func NewGenerationService(creator PredictionCreator, cancelAbandoned bool, logger *zap.Logger) *GenerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationService{
		creator:         creator,
		cancelAbandoned: cancelAbandoned,
		logger:          logger,
	}
}

// Generate creates ReplicaCount predictions concurrently. Creates run on a
// context detached from ctx: once dispatched they are not cancelled by the
// caller going away or by a failing sibling. The first failure fails the
// batch and is returned without waiting for the remaining siblings.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest) (*BatchResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if !s.creator.HasToken() {
		return nil, replicate.ErrMissingToken
	}

	n := ClampReplicaCount(req.ReplicaCount)
	input := replicate.PredictionInput{
		Prompt:            prompt,
		AspectRatio:       strings.TrimSpace(req.AspectRatio),
		ReferenceImageURL: strings.TrimSpace(req.ReferenceImageURL),
	}

	start := time.Now()
	dispatchCtx := context.WithoutCancel(ctx)
	predictions := make([]*replicate.Prediction, n)
	failed := make(chan error, 1)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			prediction, err := s.creator.CreatePrediction(dispatchCtx, input)
			if err != nil {
				err = fmt.Errorf("replica %d of %d: %w", i+1, n, err)
				select {
				case failed <- err:
				default:
				}
				return err
			}
			predictions[i] = prediction
			return nil
		})
	}

	settled := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(settled)
	}()

	var err error
	select {
	case err = <-failed:
	case <-settled:
		select {
		case err = <-failed:
		default:
		}
	}
	if err != nil {
		s.abandoned.Add(1)
		go func() {
			defer s.abandoned.Done()
			<-settled
			s.abandon(dispatchCtx, predictions, err)
		}()
		return nil, err
	}

	took := time.Since(start)
	s.logger.Info("generation completed",
		zap.Int("replicas", n),
		zap.Duration("took", took),
	)
	return &BatchResult{Predictions: predictions, Took: took}, nil
}

// Wait blocks until every failed batch has settled and its abandoned
// siblings have been handled.
func (s *GenerationService) Wait() {
	s.abandoned.Wait()
}

// abandon handles the siblings that were created before the batch failed.
// They are cancelled upstream only when cancelAbandoned is set.
func (s *GenerationService) abandon(ctx context.Context, predictions []*replicate.Prediction, cause error) {
	var created []string
	for _, p := range predictions {
		if p != nil {
			created = append(created, p.ID)
		}
	}
	if len(created) == 0 {
		return
	}

	if !s.cancelAbandoned {
		s.logger.Warn("batch failed, leaving created predictions running",
			zap.Strings("prediction_ids", created),
			zap.Error(cause),
		)
		return
	}

	for _, id := range created {
		if err := s.creator.CancelPrediction(ctx, id); err != nil {
			s.logger.Warn("failed to cancel abandoned prediction",
				zap.String("prediction_id", id),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("cancelled abandoned prediction", zap.String("prediction_id", id))
	}
}

func ClampReplicaCount(n int) int {
	if n < MinReplicas {
		return MinReplicas
	}
	if n > MaxReplicas {
		return MaxReplicas
	}
	return n
}

// ParseReplicaCount converts a JSON-decoded numImages value into a replica
// count in [1,4]. Fractions are truncated and non-numeric values count as 1.
func ParseReplicaCount(v any) int {
	switch n := v.(type) {
	case nil:
		return MinReplicas
	case int:
		return ClampReplicaCount(n)
	case int64:
		return ClampReplicaCount(clampInt64(n))
	case float64:
		return ClampReplicaCount(truncateFloat(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return MinReplicas
		}
		return ClampReplicaCount(truncateFloat(f))
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return MinReplicas
		}
		return ClampReplicaCount(truncateFloat(f))
	default:
		return MinReplicas
	}
}

func truncateFloat(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return MinReplicas
	}
	if f > MaxReplicas {
		return MaxReplicas
	}
	if f < MinReplicas {
		return MinReplicas
	}
	return int(f)
}

func clampInt64(n int64) int {
	if n > MaxReplicas {
		return MaxReplicas
	}
	if n < MinReplicas {
		return MinReplicas
	}
	return int(n)
}

// ResponseFor renders a batch in the client-facing shape: a single object for
// one replica, an ordered list otherwise.
func ResponseFor(result *BatchResult) any {
	items := make([]models.PredictionItem, len(result.Predictions))
	for i, p := range result.Predictions {
		items[i] = models.PredictionItem{
			ID:     p.ID,
			GetURL: p.URLs.Get,
			WebURL: p.URLs.Web,
			Status: p.Status,
			Output: NormalizeOutput(p.Output),
		}
	}

	if len(items) == 1 {
		return models.SingleGenerateResponse{Mode: models.ModeSingle, PredictionItem: items[0]}
	}
	return models.BatchGenerateResponse{
		Mode:   models.ModeBatch,
		Count:  len(items),
		Items:  items,
		TookMs: result.Took.Milliseconds(),
	}
}
