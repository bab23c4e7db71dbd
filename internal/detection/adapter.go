package detection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"

	"printwatch/internal/camera"
)

// DefaultConfidenceThreshold is the minimum confidence for a detection to count
const DefaultConfidenceThreshold = 0.6

// Config holds configuration for the detector adapter
type Config struct {
	ModelPath           string
	ConfidenceThreshold float32
	Labels              *LabelSet // nil means DefaultLabels
}

// Adapter wraps the classification model behind a stable frame → detections contract.
// The model is loaded on first use and kept for the adapter's lifetime.
type Adapter struct {
	backend       Backend
	modelPath     string
	confThreshold float32
	labels        *LabelSet

	mu    sync.Mutex
	model Model
}

// NewAdapter creates a detector adapter. No model is loaded until Load or Analyze.
// An unset (zero) threshold means DefaultConfidenceThreshold.
func NewAdapter(backend Backend, cfg Config) *Adapter {
	if !(cfg.ConfidenceThreshold > 0) {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.Labels == nil {
		cfg.Labels = DefaultLabels()
	}
	return &Adapter{
		backend:       backend,
		modelPath:     cfg.ModelPath,
		confThreshold: cfg.ConfidenceThreshold,
		labels:        cfg.Labels,
	}
}

// Load loads the model if it is not loaded yet.
// A missing model file returns ErrModelNotFound, any other failure ErrModelLoad.
// Failures are not cached; the next call retries.
func (a *Adapter) Load(ctx context.Context) error {
	_, err := a.loadedModel(ctx)
	return err
}

// IsLoaded reports whether the model has been loaded
func (a *Adapter) IsLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model != nil
}

func (a *Adapter) loadedModel(ctx context.Context) (Model, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model != nil {
		return a.model, nil
	}

	if a.modelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelNotFound)
	}
	if _, err := os.Stat(a.modelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, a.modelPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	model, err := a.backend.Load(ctx, a.modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, a.modelPath, err)
	}

	a.model = model
	log.Printf("[Detector] Loaded model %s (threshold: %.2f)", a.modelPath, a.confThreshold)
	return model, nil
}

// Analyze runs the model on a frame and returns detections at or above the
// confidence threshold with a known class id.
// Only a load failure is returned as an error; inference failures are logged
// and reported as no detections.
func (a *Adapter) Analyze(ctx context.Context, frame *camera.Frame) ([]Detection, error) {
	model, err := a.loadedModel(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := predict(ctx, model, frame)
	if err != nil {
		log.Printf("[Detector] Warning: %v", err)
		return []Detection{}, nil
	}

	detections := make([]Detection, 0, len(raw))
	for _, r := range raw {
		// NaN never passes
		if !(r.Confidence >= a.confThreshold) {
			continue
		}

		label, ok := a.labels.Label(r.ClassID)
		if !ok {
			log.Printf("[Detector] Dropping detection with unknown class id %d (confidence %.2f)", r.ClassID, r.Confidence)
			continue
		}

		detections = append(detections, Detection{
			ClassID:    r.ClassID,
			Label:      label,
			Kind:       a.labels.KindOf(label),
			Confidence: r.Confidence,
			BBox:       toBBox(r.BBox),
		})
	}

	return detections, nil
}

// Annotate returns a copy of frame with the detections drawn on it
func (a *Adapter) Annotate(frame *camera.Frame, detections []Detection) *camera.Frame {
	return Annotate(frame, detections)
}

// Healthy reports whether the inference backend answers its health check.
// Backends without a health check count as healthy.
func (a *Adapter) Healthy(ctx context.Context) bool {
	hc, ok := a.backend.(interface{ Healthy(context.Context) bool })
	if !ok {
		return true
	}
	return hc.Healthy(ctx)
}

// Labels returns the adapter's label set
func (a *Adapter) Labels() *LabelSet {
	return a.labels
}

// Close releases the loaded model
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model == nil {
		return nil
	}
	err := a.model.Close()
	a.model = nil
	return err
}

// predict calls the model, converting errors and panics into ErrInference
func predict(ctx context.Context, model Model, frame *camera.Frame) (raw []RawDetection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInference, r)
		}
	}()

	raw, err = model.Predict(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return raw, nil
}

func toBBox(b []float32) *BBox {
	if len(b) < 4 {
		return nil
	}
	return &BBox{
		X1: int(b[0]),
		Y1: int(b[1]),
		X2: int(b[2]),
		Y2: int(b[3]),
	}
}
