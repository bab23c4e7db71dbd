package stream

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"printwatch/internal/camera"
)

// FrameSource is the camera the live views read from
type FrameSource interface {
	Start(index int) error
	Read() (*camera.Frame, error)
	Latest() (*camera.Frame, error)
	IsAvailable() bool
}

// Config tunes the live views
type Config struct {
	CameraIndex int
	Quality     int           // JPEG quality, default 85
	FPS         int           // Stream frame rate, default 10
	StaleAfter  time.Duration // Cached frames older than this are re-captured, default 1s
}

func (c Config) withDefaults() Config {
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = camera.DefaultJPEGQuality
	}
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Second
	}
	return c
}

// retryDelay is the wait before trying again when no frame is available
const retryDelay = 100 * time.Millisecond

// MJPEGHandler serves the camera as a multipart JPEG stream.
// While a monitoring session runs, viewers see its annotated frames.
type MJPEGHandler struct {
	source FrameSource
	cfg    Config
}

// NewMJPEGHandler creates a live stream handler
func NewMJPEGHandler(source FrameSource, cfg Config) *MJPEGHandler {
	return &MJPEGHandler{source: source, cfg: cfg.withDefaults()}
}

// ServeHTTP serves the MJPEG stream to a client until it disconnects
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	if !h.source.IsAvailable() {
		if err := h.source.Start(h.cfg.CameraIndex); err != nil {
			log.Printf("[Stream] Camera %d not available: %v", h.cfg.CameraIndex, err)
		}
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("[Stream] Client %s connected", r.RemoteAddr)
	interval := time.Second / time.Duration(h.cfg.FPS)

	for {
		wait := interval

		data, err := h.nextJPEG()
		if err != nil {
			wait = retryDelay
		} else {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			if _, err := w.Write(data); err != nil {
				log.Printf("[Stream] Client %s write error: %v", r.RemoteAddr, err)
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			log.Printf("[Stream] Client %s disconnected", r.RemoteAddr)
			return
		case <-time.After(wait):
		}
	}
}

func (h *MJPEGHandler) nextJPEG() ([]byte, error) {
	frame, err := currentFrame(h.source, h.cfg.StaleAfter)
	if err != nil {
		return nil, err
	}
	return frame.EncodeJPEG(h.cfg.Quality)
}

// currentFrame returns the cached frame, capturing a new one when the cache
// has not been refreshed by a monitoring session for a while
func currentFrame(source FrameSource, staleAfter time.Duration) (*camera.Frame, error) {
	frame, err := source.Latest()
	if err != nil {
		return nil, err
	}
	if time.Since(frame.CapturedAt) > staleAfter {
		if fresh, err := source.Read(); err == nil {
			return fresh, nil
		}
	}
	return frame, nil
}

// SnapshotHandler serves a single JPEG frame
type SnapshotHandler struct {
	source FrameSource
	cfg    Config
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(source FrameSource, cfg Config) *SnapshotHandler {
	return &SnapshotHandler{source: source, cfg: cfg.withDefaults()}
}

// ServeHTTP serves a single JPEG snapshot, 503 when the camera is unavailable
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame, err := currentFrame(h.source, h.cfg.StaleAfter)
	if err != nil {
		http.Error(w, `{"error": "camera not available"}`, http.StatusServiceUnavailable)
		return
	}

	data, err := frame.EncodeJPEG(h.cfg.Quality)
	if err != nil {
		http.Error(w, `{"error": "failed to encode frame"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}
