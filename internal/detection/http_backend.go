package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"printwatch/internal/camera"
)

// HTTPBackend loads and runs models on an inference server over HTTP
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

type loadModelRequest struct {
	ModelPath string `json:"model_path"`
}

type loadModelResponse struct {
	ModelID string `json:"model_id"`
}

type predictResponse struct {
	Detections []struct {
		ClassID    int       `json:"class_id"`
		Confidence float32   `json:"confidence"`
		BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
	} `json:"detections"`
	InferenceTimeMs float32 `json:"inference_time_ms"`
}

// NewHTTPBackend creates a backend talking to the inference server at endpoint
func NewHTTPBackend(endpoint string) *HTTPBackend {
	return &HTTPBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Healthy checks if the inference server is reachable
func (b *HTTPBackend) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Load asks the server to load the model file and returns a handle to it
func (b *HTTPBackend) Load(ctx context.Context, modelPath string) (Model, error) {
	body, err := json.Marshal(loadModelRequest{ModelPath: modelPath})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/models/load", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("load failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result loadModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid load response: %w", err)
	}
	if result.ModelID == "" {
		return nil, fmt.Errorf("invalid load response: empty model id")
	}

	return &httpModel{backend: b, modelID: result.ModelID}, nil
}

type httpModel struct {
	backend *HTTPBackend
	modelID string
}

// Predict sends the frame as JPEG and returns the raw model output
func (m *httpModel) Predict(ctx context.Context, frame *camera.Frame) ([]RawDetection, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}
	imageData, err := frame.EncodeJPEG(camera.DefaultJPEGQuality)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, err
	}
	w.WriteField("model_id", m.modelID)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.backend.endpoint+"/predict", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := m.backend.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("predict failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid predict response: %w", err)
	}

	raw := make([]RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		raw = append(raw, RawDetection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       d.BBox,
		})
	}
	return raw, nil
}

func (m *httpModel) Close() error {
	return nil
}
