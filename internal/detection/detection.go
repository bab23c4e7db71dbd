package detection

import (
	"context"
	"errors"

	"printwatch/internal/camera"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelLoad     = errors.New("model load failed")
	ErrInference     = errors.New("inference failed")
)

// Kind groups class labels by what they mean for a print job
type Kind int

const (
	KindOther Kind = iota
	KindSuccess
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "other"
	}
}

// BBox is a bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1"` // Left
	Y1 int `json:"y1"` // Top
	X2 int `json:"x2"` // Right
	Y2 int `json:"y2"` // Bottom
}

// Detection is a classified region of a frame that passed the confidence filter
type Detection struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Kind       Kind    `json:"kind"`
	Confidence float32 `json:"confidence"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

// RawDetection is a model output before label mapping and filtering
type RawDetection struct {
	ClassID    int
	Confidence float32
	BBox       []float32 // [x1, y1, x2, y2], may be empty
}

// Model runs inference on frames
type Model interface {
	Predict(ctx context.Context, frame *camera.Frame) ([]RawDetection, error)
	Close() error
}

// Backend loads a model from a model file path
type Backend interface {
	Load(ctx context.Context, modelPath string) (Model, error)
}
