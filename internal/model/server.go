package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/plant-api/internal/imageproc"
)

// Server runs an ONNX plant classifier. Input and output tensors are
// allocated once and reused, so Predict calls are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func LoadMetadata(path string) (Metadata, error) {
	var metadata Metadata

	metaFile, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := metadata.Validate(); err != nil {
		return metadata, err
	}
	return metadata, nil
}

// Validate checks the metadata against the fixed (1, 224, 224, 3) input.
func (m *Metadata) Validate() error {
	if len(m.InputShape) == 0 {
		return fmt.Errorf("metadata: input_shape is empty")
	}
	size := int64(1)
	for _, d := range m.InputShape {
		size *= d
	}
	if size != imageproc.TensorSize {
		return fmt.Errorf("metadata: input_shape %v holds %d values, want %d", m.InputShape, size, imageproc.TensorSize)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("metadata: output_shape is empty")
	}
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata: no classes")
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	return nil
}

// NewServer loads the model at modelPath. sharedLibrary points at the
// onnxruntime library and may be empty to use the platform default.
func NewServer(modelPath, metadataPath, sharedLibrary string) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *Server) Name() string { return "onnx" }

func (s *Server) Predict(ctx context.Context, t *imageproc.Tensor) (*PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t == nil || len(t.Data) != imageproc.TensorSize {
		return nil, fmt.Errorf("inference: want %d input values", imageproc.TensorSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), t.Data)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return s.Metadata.decide(s.outputTensor.GetData())
}

// decide maps raw class scores to the best-scoring label.
func (m Metadata) decide(scores []float32) (*PredictionResult, error) {
	idx, val, err := argmax(scores, len(m.Classes))
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	plant, diagnosis := ParseLabel(m.Classes[idx])
	return &PredictionResult{
		Plant:      plant,
		Confidence: clampUnit(val),
		Diagnosis:  diagnosis,
	}, nil
}

func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
