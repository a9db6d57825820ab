package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
)

const (
	// PlaybackSampleRate is the synthesized-speech rate (16-bit LE mono PCM).
	PlaybackSampleRate = 24000
	// CaptureSampleRate is the microphone rate expected by the backend.
	CaptureSampleRate = 16000

	// captureChunkBytes is 100ms of 16-bit mono audio at 16kHz.
	captureChunkBytes = 3200
)

// Unit is one scheduled continuous playback region.
type Unit interface {
	// Done is closed when playback finishes or is stopped.
	Done() <-chan struct{}
	// Stop aborts playback immediately.
	Stop()
}

// Output is the audio output capability boundary.
type Output interface {
	Play(pcm []byte) (Unit, error)
	Close() error
}

// Frame is one leveled PCM fragment from the capture transform.
type Frame struct {
	PCM   []byte
	Level int // 0-100
}

// CaptureDevice is the microphone capability boundary.
type CaptureDevice interface {
	Start() (<-chan Frame, error)
	Stop() error
}

// SoxOutput plays PCM through sox, one process per playback unit.
type SoxOutput struct{}

func NewSoxOutput() *SoxOutput {
	return &SoxOutput{}
}

func (o *SoxOutput) Play(pcm []byte) (Unit, error) {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(PlaybackSampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sox start: %w", err)
	}

	u := &soxUnit{cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		if _, err := stdin.Write(pcm); err != nil {
			log.Printf("⚠️ sox write error: %v", err)
		}
		stdin.Close()
		cmd.Wait()
	}()
	return u, nil
}

func (o *SoxOutput) Close() error { return nil }

type soxUnit struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopOnce sync.Once
}

func (u *soxUnit) Done() <-chan struct{} { return u.done }

func (u *soxUnit) Stop() {
	u.stopOnce.Do(func() {
		if u.cmd.Process != nil {
			u.cmd.Process.Kill()
		}
	})
}

// SoxCapture records from the default input device via sox, emitting 100ms
// leveled PCM frames.
type SoxCapture struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	frames chan Frame
}

func NewSoxCapture() *SoxCapture {
	return &SoxCapture{}
}

func (c *SoxCapture) Start() (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil, fmt.Errorf("capture already running")
	}

	cmd := exec.Command("sox",
		"-d",
		"-t", "raw",
		"-r", fmt.Sprint(CaptureSampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sox stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sox start: %w", err)
	}

	frames := make(chan Frame, 16)
	c.cmd = cmd
	c.frames = frames

	go func() {
		defer close(frames)
		buf := make([]byte, captureChunkBytes)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				frames <- Frame{PCM: chunk, Level: pcmLevel(chunk)}
			}
			if err != nil {
				return
			}
		}
	}()
	return frames, nil
}

func (c *SoxCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	c.cmd = nil
	c.frames = nil
	return nil
}

// pcmLevel maps the mean amplitude of 16-bit LE samples to a 0-100 scalar.
func pcmLevel(pcm []byte) int {
	usable := len(pcm) - len(pcm)%2
	if usable == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < usable; i += 2 {
		// Widen before negating: -int16(-32768) overflows back to -32768.
		v := int64(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		if v < 0 {
			v = -v
		}
		sum += v
	}
	avg := float64(sum) / float64(usable/2) / 256.0
	level := int(avg / 128.0 * 100.0 * 1.5)
	if level > 100 {
		level = 100
	}
	if level < 0 {
		level = 0
	}
	return level
}
