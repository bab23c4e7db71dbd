package detection

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestHTTPBackendLoadAndPredict(t *testing.T) {
	var gotPath, gotModelID string
	var gotImage []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/load":
			var req loadModelRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotPath = req.ModelPath
			json.NewEncoder(w).Encode(loadModelResponse{ModelID: "m-1"})
		case "/predict":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			gotModelID = r.FormValue("model_id")
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			gotImage, _ = io.ReadAll(f)
			w.Write([]byte(`{"detections":[{"class_id":1,"confidence":0.87,"bbox":[1,2,3,4]}],"inference_time_ms":12.5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL + "/")
	model, err := backend.Load(context.Background(), "models/printwatch.pt")
	require.NoError(t, err)
	assert.Equal(t, "models/printwatch.pt", gotPath)

	raw, err := model.Predict(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, "m-1", gotModelID)
	assert.Equal(t, []byte{0xFF, 0xD8}, gotImage[:2])

	require.Len(t, raw, 1)
	assert.Equal(t, 1, raw[0].ClassID)
	assert.InDelta(t, 0.87, raw[0].Confidence, 1e-6)
	assert.Equal(t, []float32{1, 2, 3, 4}, raw[0].BBox)
}

func TestHTTPBackendLoadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported model format", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL).Load(context.Background(), "x.pt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported model format")
}

func TestHTTPBackendHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	backend := NewHTTPBackend(srv.URL)
	assert.True(t, backend.Healthy(context.Background()))

	srv.Close()
	assert.False(t, backend.Healthy(context.Background()))
}

func TestGRPCBackendHealthy(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	defer srv.Stop()

	backend, err := NewGRPCBackend(lis.Addr().String())
	require.NoError(t, err)
	defer backend.Close()

	assert.True(t, backend.Healthy(context.Background()))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, backend.Healthy(context.Background()))
}

func TestAdapterHealthyDelegatesToBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.False(t, NewAdapter(NewHTTPBackend(srv.URL), Config{}).Healthy(context.Background()))
	assert.True(t, NewAdapter(&fakeBackend{}, Config{}).Healthy(context.Background()), "no health check")
}

func TestParseStructDetections(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{
		"detections": []any{
			map[string]any{"class_id": 0, "confidence": 0.91, "bbox": []any{10, 20, 30, 40}},
			map[string]any{"class_id": 2, "confidence": 0.4},
		},
	})
	require.NoError(t, err)

	raw, err := parseStructDetections(resp)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, 0, raw[0].ClassID)
	assert.Equal(t, []float32{10, 20, 30, 40}, raw[0].BBox)
	assert.Equal(t, 2, raw[1].ClassID)
	assert.Empty(t, raw[1].BBox)
}

func TestParseStructDetectionsEmpty(t *testing.T) {
	raw, err := parseStructDetections(&structpb.Struct{})
	require.NoError(t, err)
	assert.Empty(t, raw)

	bad, err := structpb.NewStruct(map[string]any{"detections": "nope"})
	require.NoError(t, err)
	_, err = parseStructDetections(bad)
	assert.Error(t, err)
}
