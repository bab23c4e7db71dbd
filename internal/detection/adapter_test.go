package detection

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printwatch/internal/camera"
)

type fakeModel struct {
	raw    []RawDetection
	err    error
	panics bool
	calls  int
	closed bool
}

func (m *fakeModel) Predict(ctx context.Context, frame *camera.Frame) ([]RawDetection, error) {
	m.calls++
	if m.panics {
		panic("tensor shape mismatch")
	}
	return m.raw, m.err
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

type fakeBackend struct {
	model *fakeModel
	err   error
	loads int
	path  string
}

func (b *fakeBackend) Load(ctx context.Context, modelPath string) (Model, error) {
	b.loads++
	b.path = modelPath
	if b.err != nil {
		return nil, b.err
	}
	return b.model, nil
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "printwatch.pt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func testFrame() *camera.Frame {
	return camera.NewFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)))
}

func TestLoadMissingModel(t *testing.T) {
	backend := &fakeBackend{model: &fakeModel{}}

	a := NewAdapter(backend, Config{ModelPath: filepath.Join(t.TempDir(), "missing.pt")})
	err := a.Load(context.Background())
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Equal(t, 0, backend.loads)

	a = NewAdapter(backend, Config{})
	assert.ErrorIs(t, a.Load(context.Background()), ErrModelNotFound)
}

func TestLoadBackendFailureIsRetried(t *testing.T) {
	backend := &fakeBackend{model: &fakeModel{}, err: errors.New("corrupt weights")}
	a := NewAdapter(backend, Config{ModelPath: modelFile(t)})

	err := a.Load(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.False(t, a.IsLoaded())

	backend.err = nil
	require.NoError(t, a.Load(context.Background()))
	assert.True(t, a.IsLoaded())
	assert.Equal(t, 2, backend.loads)
}

func TestLoadIsCached(t *testing.T) {
	backend := &fakeBackend{model: &fakeModel{}}
	path := modelFile(t)
	a := NewAdapter(backend, Config{ModelPath: path})

	require.NoError(t, a.Load(context.Background()))
	require.NoError(t, a.Load(context.Background()))
	_, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)

	assert.Equal(t, 1, backend.loads)
	assert.Equal(t, path, backend.path)
}

func TestAnalyzeFiltersByConfidence(t *testing.T) {
	model := &fakeModel{raw: []RawDetection{
		{ClassID: 0, Confidence: 0.59},
		{ClassID: 1, Confidence: 0.6, BBox: []float32{1, 2, 30, 40}},
		{ClassID: 2, Confidence: 0.95},
	}}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, ClassFailure1, dets[0].Label)
	assert.Equal(t, KindFailure, dets[0].Kind)
	assert.Equal(t, &BBox{X1: 1, Y1: 2, X2: 30, Y2: 40}, dets[0].BBox)

	assert.Equal(t, ClassFailure2, dets[1].Label)
	assert.Nil(t, dets[1].BBox)
}

func TestAnalyzeMapsFinished(t *testing.T) {
	model := &fakeModel{raw: []RawDetection{{ClassID: 0, Confidence: 0.8}}}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, ClassFinished, dets[0].Label)
	assert.Equal(t, KindSuccess, dets[0].Kind)
}

func TestAnalyzeDropsUnknownClass(t *testing.T) {
	model := &fakeModel{raw: []RawDetection{
		{ClassID: 7, Confidence: 0.99},
		{ClassID: 0, Confidence: 0.7},
	}}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0, dets[0].ClassID)
}

func TestAnalyzeCustomThreshold(t *testing.T) {
	model := &fakeModel{raw: []RawDetection{{ClassID: 0, Confidence: 0.75}}}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t), ConfidenceThreshold: 0.8})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestAnalyzeDropsNaNConfidence(t *testing.T) {
	model := &fakeModel{raw: []RawDetection{
		{ClassID: 1, Confidence: float32(math.NaN())},
		{ClassID: 0, Confidence: 0.9},
	}}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, ClassFinished, dets[0].Label)
}

func TestAnalyzeInferenceErrorYieldsNoDetections(t *testing.T) {
	model := &fakeModel{err: errors.New("cuda out of memory")}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestAnalyzeInferencePanicYieldsNoDetections(t *testing.T) {
	model := &fakeModel{panics: true}
	a := NewAdapter(&fakeBackend{model: model}, Config{ModelPath: modelFile(t)})

	dets, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.Equal(t, 1, model.calls)
}

func TestAnalyzeReturnsLoadError(t *testing.T) {
	a := NewAdapter(&fakeBackend{model: &fakeModel{}}, Config{ModelPath: "/nonexistent/model.pt"})

	dets, err := a.Analyze(context.Background(), testFrame())
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Nil(t, dets)
}

func TestCloseReleasesModel(t *testing.T) {
	model := &fakeModel{}
	backend := &fakeBackend{model: model}
	a := NewAdapter(backend, Config{ModelPath: modelFile(t)})

	require.NoError(t, a.Load(context.Background()))
	require.NoError(t, a.Close())
	assert.True(t, model.closed)
	assert.False(t, a.IsLoaded())

	require.NoError(t, a.Close())
}
