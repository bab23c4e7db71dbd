package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"time"
)

// DefaultJPEGQuality is used for streaming and snapshots
const DefaultJPEGQuality = 85

// Frame is one captured image.
// A Frame handed out by Source is an independent copy owned by the caller.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64    // Capture sequence number
	CapturedAt time.Time // Capture timestamp
}

// NewFrame copies img into a new RGBA frame
func NewFrame(img image.Image) *Frame {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return &Frame{
		Image:      rgba,
		CapturedAt: time.Now(),
	}
}

// DecodeJPEG decodes JPEG bytes into a frame
func DecodeJPEG(data []byte) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	return NewFrame(img), nil
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Image != nil {
		c.Image = &image.RGBA{
			Pix:    append([]uint8(nil), f.Image.Pix...),
			Stride: f.Image.Stride,
			Rect:   f.Image.Rect,
		}
	}
	return &c
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// EncodeJPEG encodes the frame as JPEG
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
