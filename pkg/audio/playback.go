package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// PlayerConfig configures playback buffering behavior.
type PlayerConfig struct {
	// MinBufferMS is the minimum audio to buffer before emitting the first
	// chunk, so tiny leading chunks don't glitch. Set to 0 to disable
	// pre-buffering.
	MinBufferMS int

	// ChannelSize is the buffer size of the chunks channel.
	ChannelSize int
}

// DefaultPlayerConfig returns the default playback configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		MinBufferMS: 50,
		ChannelSize: 20,
	}
}

// Player is the continuously-draining playback queue for output audio.
// Playback is gapless as long as chunks are enqueued faster than they drain.
//
// Usage:
//
//	player := audio.NewPlayer(audio.SampleRateHz, audio.DefaultPlayerConfig())
//	for {
//	    select {
//	    case chunk := <-player.Chunks():
//	        sink.Write(chunk)
//	    case <-player.FlushSignal():
//	        sink.Reset()
//	    }
//	}
type Player struct {
	config     PlayerConfig
	sampleRate int

	chunks chan []byte
	flush  chan struct{}

	mu          sync.Mutex
	buffer      []byte
	bufferReady bool
	closed      bool
}

// NewPlayer creates a playback queue for the given sample rate.
func NewPlayer(sampleRate int, config PlayerConfig) *Player {
	if config.MinBufferMS == 0 && config.ChannelSize == 0 {
		config = DefaultPlayerConfig()
	}
	if config.ChannelSize == 0 {
		config.ChannelSize = 20
	}

	return &Player{
		config:     config,
		sampleRate: sampleRate,
		chunks:     make(chan []byte, config.ChannelSize),
		flush:      make(chan struct{}, 1),
	}
}

// Enqueue appends PCM samples for playback. Playback begins automatically
// once the pre-buffer threshold is reached.
func (p *Player) Enqueue(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.buffer = append(p.buffer, pcm...)

	minBytes := (p.sampleRate * BytesPerSample * p.config.MinBufferMS) / 1000
	if !p.bufferReady && len(p.buffer) >= minBytes {
		p.bufferReady = true
	}

	if p.bufferReady && len(p.buffer) > 0 {
		chunk := p.buffer
		p.buffer = nil
		select {
		case p.chunks <- chunk:
		default:
			// Channel full; hold the data for the next enqueue.
			p.buffer = chunk
		}
	}
}

// Chunks returns the channel of chunks ready for the audio device.
func (p *Player) Chunks() <-chan []byte {
	return p.chunks
}

// FlushSignal returns a channel that fires when the consumer should clear
// its device buffer (e.g. the remote side reset the audio stream).
func (p *Player) FlushSignal() <-chan struct{} {
	return p.flush
}

// Flush drops all queued audio, resets pre-buffering, and signals the
// consumer to clear its device buffer.
func (p *Player) Flush() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.buffer = nil
	p.bufferReady = false
	p.mu.Unlock()

	for {
		select {
		case <-p.chunks:
		default:
			select {
			case p.flush <- struct{}{}:
			default:
				// A flush signal is already pending.
			}
			return
		}
	}
}

// HandleAudio drains the queue in a background goroutine, calling onChunk
// for each chunk and onFlush on flush signals.
func (p *Player) HandleAudio(onChunk func([]byte), onFlush func()) {
	go func() {
		for {
			select {
			case chunk, ok := <-p.chunks:
				if !ok {
					return
				}
				if onChunk != nil {
					onChunk(chunk)
				}
			case _, ok := <-p.flush:
				if !ok {
					return
				}
				if onFlush != nil {
					onFlush()
				}
			}
		}
	}()
}

// Close closes the playback queue.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.chunks)
	close(p.flush)
}

// FFplaySink plays raw PCM through an ffplay subprocess.
type FFplaySink struct {
	sampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFplaySink starts an ffplay process reading s16le mono PCM at the given
// sample rate from stdin.
func NewFFplaySink(sampleRate int) (*FFplaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	sink := &FFplaySink{sampleRate: sampleRate}
	if err := sink.startLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *FFplaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Write sends PCM bytes to the device.
func (s *FFplaySink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("ffplay stdin is not initialized")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// Reset drops any device-buffered audio by restarting the process.
func (s *FFplaySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return s.startLocked()
}

// Close stops playback and releases the process.
func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return nil
}
