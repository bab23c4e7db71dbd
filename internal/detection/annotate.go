package detection

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"printwatch/internal/camera"
)

var (
	colorSuccess = color.RGBA{0, 255, 0, 255}   // Green
	colorFailure = color.RGBA{255, 0, 0, 255}   // Red
	colorOther   = color.RGBA{255, 255, 0, 255} // Yellow
)

// ColorFor returns the overlay color of a detection kind
func ColorFor(kind Kind) color.RGBA {
	switch kind {
	case KindSuccess:
		return colorSuccess
	case KindFailure:
		return colorFailure
	default:
		return colorOther
	}
}

// Annotate returns a copy of frame with a box and label drawn for every detection.
// Detections without a bounding box are skipped.
func Annotate(frame *camera.Frame, detections []Detection) *camera.Frame {
	out := frame.Clone()
	if out == nil || out.Image == nil {
		return out
	}

	for _, det := range detections {
		if det.BBox == nil {
			continue
		}
		c := ColorFor(det.Kind)
		x, y := det.BBox.X1, det.BBox.Y1
		w, h := det.BBox.X2-det.BBox.X1, det.BBox.Y2-det.BBox.Y1

		drawBox(out.Image, x, y, w, h, c, 2)
		drawLabel(out.Image, x, y-15, fmt.Sprintf("%s %.0f%%", det.Label, det.Confidence*100), c)
	}

	return out
}

// drawBox draws a rectangle on the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		// Top and bottom edges
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if i < bounds.Min.X {
				continue
			}
			if y+t >= bounds.Min.Y && y+t < bounds.Max.Y {
				img.Set(i, y+t, c)
			}
			if y+h-t >= bounds.Min.Y && y+h-t < bounds.Max.Y {
				img.Set(i, y+h-t, c)
			}
		}
		// Left and right edges
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if j < bounds.Min.Y {
				continue
			}
			if x+t >= bounds.Min.X && x+t < bounds.Max.X {
				img.Set(x+t, j, c)
			}
			if x+w-t >= bounds.Min.X && x+w-t < bounds.Max.X {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text on a dark background at (x, y)
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if (image.Point{px, py}).In(img.Bounds()) {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
