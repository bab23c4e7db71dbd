package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"printwatch/internal/camera"
)

// Inference service methods. Requests and responses are google.protobuf.Struct
// messages so no generated stubs are needed on this side.
const (
	grpcLoadModelMethod = "/printwatch.inference.v1.Inference/LoadModel"
	grpcPredictMethod   = "/printwatch.inference.v1.Inference/Predict"
)

// GRPCBackend loads and runs models on an inference server over gRPC
type GRPCBackend struct {
	endpoint string
	conn     *grpc.ClientConn
	timeout  time.Duration
}

// NewGRPCBackend creates a client for the inference server at endpoint.
// The connection is established lazily on first call.
func NewGRPCBackend(endpoint string) (*GRPCBackend, error) {
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	log.Printf("[GRPCBackend] Using inference server at %s", endpoint)
	return &GRPCBackend{
		endpoint: endpoint,
		conn:     conn,
		timeout:  10 * time.Second,
	}, nil
}

// Healthy asks the server's standard health service whether it is serving
func (b *GRPCBackend) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(b.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Load asks the server to load the model file
func (b *GRPCBackend) Load(ctx context.Context, modelPath string) (Model, error) {
	req, err := structpb.NewStruct(map[string]any{"model_path": modelPath})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, grpcLoadModelMethod, req, resp); err != nil {
		return nil, fmt.Errorf("LoadModel: %w", err)
	}

	modelID := resp.GetFields()["model_id"].GetStringValue()
	if modelID == "" {
		return nil, fmt.Errorf("LoadModel: empty model id")
	}
	return &grpcModel{backend: b, modelID: modelID}, nil
}

// Close closes the connection
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

type grpcModel struct {
	backend *GRPCBackend
	modelID string
}

func (m *grpcModel) Predict(ctx context.Context, frame *camera.Frame) ([]RawDetection, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}
	imageData, err := frame.EncodeJPEG(camera.DefaultJPEGQuality)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{
		"model_id":   m.modelID,
		"image_jpeg": base64.StdEncoding.EncodeToString(imageData),
		"width":      frame.Width(),
		"height":     frame.Height(),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.backend.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := m.backend.conn.Invoke(ctx, grpcPredictMethod, req, resp); err != nil {
		return nil, fmt.Errorf("Predict: %w", err)
	}
	return parseStructDetections(resp)
}

func (m *grpcModel) Close() error {
	return nil
}

// parseStructDetections reads {"detections": [{"class_id", "confidence", "bbox"}]}
func parseStructDetections(resp *structpb.Struct) ([]RawDetection, error) {
	field, ok := resp.GetFields()["detections"]
	if !ok {
		return []RawDetection{}, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("detections is not a list")
	}

	raw := make([]RawDetection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("detection %d is not an object", i)
		}
		fields := s.GetFields()

		d := RawDetection{
			ClassID:    int(fields["class_id"].GetNumberValue()),
			Confidence: float32(fields["confidence"].GetNumberValue()),
		}
		if bbox := fields["bbox"].GetListValue(); bbox != nil {
			for _, c := range bbox.GetValues() {
				d.BBox = append(d.BBox, float32(c.GetNumberValue()))
			}
		}
		raw = append(raw, d)
	}
	return raw, nil
}
