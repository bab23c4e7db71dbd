package camera

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"
)

// ErrCameraUnavailable is returned when the device cannot be opened or read
var ErrCameraUnavailable = errors.New("camera unavailable")

// Device is an open camera handle
type Device interface {
	// Read captures the next frame. It must return promptly or fail.
	Read() (image.Image, error)

	// IsOpened reports whether the handle is still usable
	IsOpened() bool

	// Close releases the device
	Close() error
}

// Opener opens the camera device at index
type Opener func(index int) (Device, error)

// Source owns the single camera handle and the most recent frame.
// All access to the handle and the cached frame is serialized by one mutex,
// and every frame that leaves or enters Source is copied.
//
// Only one handle is open at a time. Start for a different index while
// running keeps the current device.
type Source struct {
	open    Opener
	mu      sync.Mutex
	device  Device
	index   int
	latest  *Frame
	running bool
	seq     uint64
}

// NewSource creates a stopped frame source
func NewSource(open Opener) *Source {
	return &Source{
		open: open,
	}
}

// Start opens the device at index and confirms it by reading one frame.
// It is a no-op while the source is already running with a handle open.
func (s *Source) Start(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && s.device != nil {
		if index != s.index {
			log.Printf("[Camera] Start(%d) ignored, camera %d already running", index, s.index)
		}
		return nil
	}

	dev, err := s.open(index)
	if err != nil {
		return fmt.Errorf("%w: failed to open camera %d: %v", ErrCameraUnavailable, index, err)
	}
	if !dev.IsOpened() {
		dev.Close()
		return fmt.Errorf("%w: camera %d did not open", ErrCameraUnavailable, index)
	}

	img, err := dev.Read()
	if err != nil {
		dev.Close()
		return fmt.Errorf("%w: camera %d returned no test frame: %v", ErrCameraUnavailable, index, err)
	}

	s.device = dev
	s.index = index
	s.running = true
	s.latest = s.newFrame(img)

	log.Printf("[Camera] Started camera %d", index)
	return nil
}

// Stop closes the device and clears the cached frame. Safe to call when stopped.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		if err := s.device.Close(); err != nil {
			log.Printf("[Camera] Error closing camera %d: %v", s.index, err)
		}
		s.device = nil
		log.Printf("[Camera] Stopped camera %d", s.index)
	}
	s.latest = nil
	s.running = false
}

// Read captures a new frame, caches it and returns a copy
func (s *Source) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Latest returns a copy of the cached frame, capturing one if none is cached
func (s *Source) Latest() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest != nil {
		return s.latest.Clone(), nil
	}
	return s.readLocked()
}

// Update replaces the cached frame with a copy of frame.
// Used to publish annotated frames to live viewers without a second capture.
func (s *Source) Update(frame *Frame) {
	c := frame.Clone()

	s.mu.Lock()
	s.latest = c
	s.mu.Unlock()
}

// IsAvailable reports whether the source is running with an open handle
func (s *Source) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.device != nil && s.device.IsOpened()
}

// Index returns the index of the running camera
func (s *Source) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Source) readLocked() (*Frame, error) {
	if !s.running || s.device == nil || !s.device.IsOpened() {
		return nil, ErrCameraUnavailable
	}

	img, err := s.device.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	s.latest = s.newFrame(img)
	return s.latest.Clone(), nil
}

// newFrame must be called with the lock held
func (s *Source) newFrame(img image.Image) *Frame {
	s.seq++
	f := NewFrame(img)
	f.Seq = s.seq
	f.CapturedAt = time.Now()
	return f
}
