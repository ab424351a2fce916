// Package analyzer runs one uploaded image through decode, preprocessing
// and prediction.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-api/internal/imageproc"
	"github.com/Brownie44l1/plant-api/internal/model"
)

type Options struct {
	// Guarded turns panics inside the pipeline into KindUnexpected errors.
	Guarded    bool
	AutoOrient bool
}

// Report describes an analysis for logging and events, whatever its outcome.
type Report struct {
	Format   string
	Width    int
	Height   int
	Channels int
}

type Analyzer struct {
	predictor model.Predictor
	opts      Options
}

func New(predictor model.Predictor, opts Options) *Analyzer {
	return &Analyzer{predictor: predictor, opts: opts}
}

func (a *Analyzer) PredictorName() string {
	return a.predictor.Name()
}

// Analyze decodes data, builds the input tensor and asks the predictor for a
// result. Failures are *Error values.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (result *model.PredictionResult, report Report, err error) {
	defer a.recoverPanic("analyze", &err)

	decoded, err := imageproc.Decode(data, imageproc.DecodeOptions{AutoOrient: a.opts.AutoOrient})
	if err != nil {
		return nil, report, wrap(KindDecode, "decode", err)
	}
	report = Report{
		Format:   decoded.Format,
		Width:    decoded.Width,
		Height:   decoded.Height,
		Channels: decoded.Channels,
	}

	tensor, err := imageproc.Preprocess(decoded)
	if err != nil {
		if errors.Is(err, imageproc.ErrShape) {
			return nil, report, wrap(KindReshape, "reshape", err)
		}
		return nil, report, wrap(KindUnexpected, "preprocess", err)
	}

	result, err = a.Predict(ctx, tensor)
	return result, report, err
}

// Predict runs the predictor on an already built tensor.
func (a *Analyzer) Predict(ctx context.Context, tensor *imageproc.Tensor) (result *model.PredictionResult, err error) {
	defer a.recoverPanic("predict", &err)

	result, err = a.predictor.Predict(ctx, tensor)
	if err != nil {
		return nil, wrap(KindUnexpected, "predict", err)
	}
	return result, nil
}

func (a *Analyzer) recoverPanic(op string, err *error) {
	if !a.opts.Guarded {
		return
	}
	if r := recover(); r != nil {
		logrus.WithField("stack", string(debug.Stack())).Errorf("%s panicked: %v", op, r)
		*err = wrap(KindUnexpected, op, fmt.Errorf("panic: %v", r))
	}
}
