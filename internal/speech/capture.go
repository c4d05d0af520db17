package speech

import (
	"sync"

	"formcopilot/internal/ports"
)

// activeCapture is one microphone-to-provider pipeline.
type activeCapture struct {
	cancel   func()
	audio    ports.AudioSession
	stream   ports.StreamingSession
	listener ports.RecognitionListener

	aggregator *utteranceAggregator
	eventsDone chan struct{}
	audioDone  chan struct{}

	mu       sync.Mutex
	stopping bool
	err      error
}

func (c *activeCapture) markStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	already := c.stopping
	c.stopping = true
	return already
}

func (c *activeCapture) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// recordErr keeps the first runtime failure.
func (c *activeCapture) recordErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *activeCapture) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
