package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
)

// captureChunkBytes is the read size of the mic loop: ~85ms at 24 kHz s16le.
const captureChunkBytes = 4096

// Capture is an exclusive microphone session reading mono s16le PCM at
// SampleRateHz through an ffmpeg subprocess.
//
// Chunks are delivered to the callback in capture order while recording is
// active; Pause discards chunks without stopping the device.
type Capture struct {
	onChunk func(pcm []byte)

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	closed bool

	paused atomic.Bool
	done   chan struct{}
}

// OpenMic acquires the microphone and starts delivering chunks to onChunk.
// The returned Capture must be closed to release the device.
func OpenMic(onChunk func(pcm []byte)) (*Capture, error) {
	c := NewCapture(onChunk)
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCapture creates an unstarted microphone session.
func NewCapture(onChunk func(pcm []byte)) *Capture {
	return &Capture{onChunk: onChunk}
}

// Start launches the capture process. Calling Start on a paused session
// resumes chunk delivery instead.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture is closed")
	}
	if c.cmd != nil {
		c.paused.Store(false)
		return nil
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	c.cmd = cmd
	c.stdout = stdout
	c.done = make(chan struct{})
	go c.readLoop(stdout, c.done)
	return nil
}

// Pause suspends chunk delivery. The device stays open; Start resumes.
func (c *Capture) Pause() {
	c.paused.Store(true)
}

// Recording reports whether chunks are currently being delivered.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil && !c.closed && !c.paused.Load()
}

// Close releases the microphone. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cmd := c.cmd
	done := c.done
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Capture) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, captureChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 && !c.paused.Load() && c.onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.onChunk(chunk)
		}
		if err != nil {
			return
		}
	}
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", SampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", SampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}
