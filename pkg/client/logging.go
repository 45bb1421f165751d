package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/menta2k/leaf-scanner/internal/utils"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

type loggingPredictor struct {
	wrapped Predictor
	logger  *slog.Logger
}

// NewLoggingPredictor wraps p so that every call is logged with its outcome and duration.
func NewLoggingPredictor(p Predictor, logger *slog.Logger) Predictor {
	return &loggingPredictor{
		wrapped: p,
		logger:  logger,
	}
}

func (l *loggingPredictor) Submit(ctx context.Context, req predict.PredictionRequest) (*types.PredictionResult, error) {
	l.logger.Info("submitting leaf image",
		"crop", req.Crop,
		"filename", req.Filename,
		"size", utils.FormatFileSize(int64(len(req.Image))))
	t := time.Now()
	result, err := l.wrapped.Submit(ctx, req)
	took := time.Since(t).Milliseconds()
	if err != nil {
		l.logger.Error("prediction failed", "crop", req.Crop, "took_ms", took, "err", err)
		return nil, err
	}
	l.logger.Info("prediction complete",
		"crop", req.Crop,
		"disease", result.Disease,
		"confidence", result.Confidence,
		"healthy", result.IsHealthy,
		"took_ms", took)
	return result, nil
}
