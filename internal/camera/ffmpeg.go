package camera

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errDeviceClosed = errors.New("device closed")

// FFmpegConfig configures ffmpeg based capture
type FFmpegConfig struct {
	Binary        string        // ffmpeg executable, defaults to "ffmpeg"
	DevicePattern string        // V4L2 device path pattern, e.g. /dev/video%d
	Source        string        // RTSP/HTTP URL; overrides DevicePattern when set
	Width         int           // Capture width for V4L2 devices
	Height        int           // Capture height for V4L2 devices
	FPS           int           // Capture frame rate
	ReadTimeout   time.Duration // Max wait for the next frame
}

// NewFFmpegOpener returns an Opener that captures MJPEG frames through ffmpeg
func NewFFmpegOpener(cfg FFmpegConfig) Opener {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.DevicePattern == "" {
		cfg.DevicePattern = "/dev/video%d"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}

	return func(index int) (Device, error) {
		device := cfg.Source
		if device == "" {
			device = fmt.Sprintf(cfg.DevicePattern, index)
			if _, err := os.Stat(device); err != nil {
				return nil, fmt.Errorf("camera device %s does not exist: %w", device, err)
			}
		}
		return openFFmpeg(cfg, device)
	}
}

// ffmpegDevice keeps one ffmpeg process streaming MJPEG and hands out the newest frame
type ffmpegDevice struct {
	device      string
	cmd         *exec.Cmd
	frames      chan []byte // Holds at most the newest frame
	done        chan struct{}
	exited      atomic.Bool
	closeOnce   sync.Once
	readTimeout time.Duration
}

func openFFmpeg(cfg FFmpegConfig, device string) (*ffmpegDevice, error) {
	cmd := exec.Command(cfg.Binary, ffmpegArgs(cfg, device)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting ffmpeg: %w", err)
	}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	d := &ffmpegDevice{
		device:      device,
		cmd:         cmd,
		frames:      make(chan []byte, 1),
		done:        make(chan struct{}),
		readTimeout: cfg.ReadTimeout,
	}
	go d.readLoop(stdout)

	log.Printf("[Camera] ffmpeg capture started for %s (fps: %d)", device, cfg.FPS)
	return d, nil
}

func ffmpegArgs(cfg FFmpegConfig, device string) []string {
	if strings.HasPrefix(device, "rtsp://") {
		return []string{
			"-rtsp_transport", "tcp",
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", cfg.FPS),
			"-q:v", "5",
			"-",
		}
	}
	if strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://") {
		return []string{
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", cfg.FPS),
			"-q:v", "5",
			"-",
		}
	}

	// V4L2 device (USB camera)
	args := []string{"-f", "v4l2"}
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	}
	return append(args,
		"-framerate", fmt.Sprintf("%d", cfg.FPS),
		"-i", device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
}

func (d *ffmpegDevice) readLoop(stdout io.Reader) {
	defer d.exited.Store(true)

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF {
				select {
				case <-d.done:
				default:
					log.Printf("[Camera] Error reading from ffmpeg for %s: %v", d.device, err)
				}
			}
			return
		}

		frameBuffer = append(frameBuffer, chunk[:n]...)

		for {
			frame := extractJPEGFrame(&frameBuffer)
			if frame == nil {
				break
			}
			d.offer(frame)
		}
		frameBuffer = trimFrameBuffer(frameBuffer, maxFrameBuffer)
	}
}

// offer replaces any unread frame with the newest one
func (d *ffmpegDevice) offer(frame []byte) {
	select {
	case d.frames <- frame:
		return
	default:
	}
	select {
	case <-d.frames:
	default:
	}
	select {
	case d.frames <- frame:
	default:
	}
}

func (d *ffmpegDevice) Read() (image.Image, error) {
	timer := time.NewTimer(d.readTimeout)
	defer timer.Stop()

	select {
	case data := <-d.frames:
		f, err := DecodeJPEG(data)
		if err != nil {
			return nil, err
		}
		return f.Image, nil
	case <-d.done:
		return nil, errDeviceClosed
	case <-timer.C:
		if d.exited.Load() {
			return nil, fmt.Errorf("ffmpeg exited for %s", d.device)
		}
		return nil, fmt.Errorf("no frame from %s within %s", d.device, d.readTimeout)
	}
}

func (d *ffmpegDevice) IsOpened() bool {
	select {
	case <-d.done:
		return false
	default:
	}
	return !d.exited.Load()
}

func (d *ffmpegDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		d.cmd.Wait()
	})
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
// maxFrameBuffer bounds the bytes kept while waiting for a complete JPEG
const maxFrameBuffer = 8 * 1024 * 1024

var jpegStart = []byte{0xFF, 0xD8}

// trimFrameBuffer drops bytes before the last start marker once the buffer
// exceeds limit. Without a usable start marker only the final byte is kept,
// since it may be the first half of one.
func trimFrameBuffer(buffer []byte, limit int) []byte {
	if len(buffer) <= limit {
		return buffer
	}
	if i := bytes.LastIndex(buffer, jpegStart); i > 0 && len(buffer)-i <= limit {
		return append(buffer[:0], buffer[i:]...)
	}
	log.Printf("[Camera] Discarding %d bytes without a complete frame", len(buffer)-1)
	return append(buffer[:0], buffer[len(buffer)-1])
}

func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}
