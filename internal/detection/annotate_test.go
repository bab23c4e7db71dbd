package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printwatch/internal/camera"
)

func TestAnnotateDrawsOnCopy(t *testing.T) {
	frame := camera.NewFrame(image.NewRGBA(image.Rect(0, 0, 100, 100)))
	dets := []Detection{
		{Label: ClassFailure1, Kind: KindFailure, Confidence: 0.9, BBox: &BBox{X1: 20, Y1: 30, X2: 60, Y2: 80}},
	}

	out := Annotate(frame, dets)
	require.NotNil(t, out)

	// Left edge of the box
	assert.Equal(t, colorFailure, out.Image.RGBAAt(20, 50))
	// Source untouched
	assert.Equal(t, color.RGBA{}, frame.Image.RGBAAt(20, 50))
}

func TestAnnotateSkipsDetectionsWithoutBox(t *testing.T) {
	frame := camera.NewFrame(image.NewRGBA(image.Rect(0, 0, 10, 10)))

	out := Annotate(frame, []Detection{{Label: ClassFinished, Kind: KindSuccess, Confidence: 0.9}})
	assert.Equal(t, frame.Image.Pix, out.Image.Pix)
}

func TestAnnotateClipsOutOfBounds(t *testing.T) {
	frame := camera.NewFrame(image.NewRGBA(image.Rect(0, 0, 20, 20)))
	dets := []Detection{
		{Label: ClassFinished, Kind: KindSuccess, Confidence: 0.7, BBox: &BBox{X1: -10, Y1: -10, X2: 50, Y2: 50}},
	}

	assert.NotPanics(t, func() { Annotate(frame, dets) })
}

func TestAnnotateNilFrame(t *testing.T) {
	assert.Nil(t, Annotate(nil, nil))
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, colorSuccess, ColorFor(KindSuccess))
	assert.Equal(t, colorFailure, ColorFor(KindFailure))
	assert.Equal(t, colorOther, ColorFor(KindOther))
}
