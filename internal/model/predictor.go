package model

import (
	"context"

	"github.com/Brownie44l1/plant-api/internal/imageproc"
)

// Predictor turns a normalized (1, 224, 224, 3) tensor into a result.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, t *imageproc.Tensor) (*PredictionResult, error)
}

// DemoResult is what DemoPredictor answers for every input.
var DemoResult = PredictionResult{
	Plant:      "Demo Plant",
	Confidence: 0.99,
	Diagnosis:  "Healthy",
}

// DemoPredictor ignores its input and returns DemoResult.
type DemoPredictor struct{}

func NewDemoPredictor() *DemoPredictor {
	return &DemoPredictor{}
}

func (DemoPredictor) Name() string { return "demo" }

func (DemoPredictor) Predict(_ context.Context, _ *imageproc.Tensor) (*PredictionResult, error) {
	result := DemoResult
	return &result, nil
}
