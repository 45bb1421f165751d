package client

import (
	"context"

	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

// Predictor diagnoses a single leaf image. Implementations return either a
// fully populated result or an error, never both.
type Predictor interface {
	Submit(ctx context.Context, req predict.PredictionRequest) (*types.PredictionResult, error)
}

var (
	_ Predictor = (*predict.Client)(nil)
	_ Predictor = (*loggingPredictor)(nil)
)
