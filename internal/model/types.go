package model

// Metadata describes an exported classifier next to its .onnx file.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

type PredictionRequest struct {
	Tensor []float32 `json:"tensor"`
}

type PredictionResult struct {
	Plant      string  `json:"plant"`
	Confidence float64 `json:"confidence"`
	Diagnosis  string  `json:"diagnosis"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
