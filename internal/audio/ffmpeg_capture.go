// Package audio captures microphone PCM with ffmpeg.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/ports"
)

// ErrExitedEarly reports an ffmpeg process that died before producing audio,
// usually a missing or busy input device.
var ErrExitedEarly = errors.New("ffmpeg exited before capture started")

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopTimeout  = 1200 * time.Millisecond
	stderrTailSize      = 4096
)

// FFMPEGCapture streams microphone PCM audio using ffmpeg. A capture lives
// for as long as the assistant keeps listening.
type FFMPEGCapture struct {
	command      string
	startupGrace time.Duration
	stopTimeout  time.Duration
	log          logrus.FieldLogger
}

var _ ports.AudioCapture = (*FFMPEGCapture)(nil)

func NewFFMPEGCapture(command string, log logrus.FieldLogger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FFMPEGCapture{
		command:      command,
		startupGrace: defaultStartupGrace,
		stopTimeout:  defaultStopTimeout,
		log:          log,
	}
}

// Ready reports whether the ffmpeg binary can be found.
func (c *FFMPEGCapture) Ready() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("ffmpeg command %q not found: %w", c.command, err)
	}
	return nil
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr
	// Orphaned children can hold stderr open after ffmpeg itself is gone.
	cmd.WaitDelay = c.stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		if detail := stderr.String(); detail != "" {
			return nil, fmt.Errorf("%w: %v: %s", ErrExitedEarly, err, detail)
		}
		return nil, ErrExitedEarly
	case <-time.After(c.startupGrace):
	}

	c.log.WithFields(logrus.Fields{
		"device":      cfg.InputDevice,
		"format":      cfg.InputFormat,
		"sample_rate": cfg.SampleRate,
		"pid":         cmd.Process.Pid,
	}).Debug("microphone capture started")

	return &ffmpegSession{
		stdout:      stdout,
		stderr:      stderr,
		process:     cmd.Process,
		exited:      exited,
		stopTimeout: c.stopTimeout,
		log:         c.log,
	}, nil
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

// captureArgs asks ffmpeg for raw little-endian 16-bit PCM on stdout,
// flushed per packet so interim results keep up with speech.
func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-flush_packets", "1",
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *tailBuffer

	process     *os.Process
	exited      <-chan error
	stopTimeout time.Duration
	log         logrus.FieldLogger

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg and kills it if it has not exited within the stop
// timeout. A non-zero exit caused by the interrupt is not an error.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		var waitErr error
		select {
		case waitErr = <-s.exited:
		case <-time.After(s.stopTimeout):
			s.log.WithField("pid", s.process.Pid).Warn("ffmpeg ignored interrupt, killing")
			_ = s.process.Kill()
			waitErr = <-s.exited
		}
		s.stopErr = ignoreExitStatus(waitErr)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil {
			if detail := s.stderr.String(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.limit; overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.data))
}
