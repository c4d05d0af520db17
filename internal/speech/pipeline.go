package speech

import (
	"errors"
	"fmt"
	"io"
	"time"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

// forwardAudio sends microphone reads to the provider until the capture
// reaches EOF. It returns the number of bytes sent.
func forwardAudio(audio io.Reader, stream ports.StreamingSession, chunkSize int) (int64, error) {
	if chunkSize < minChunkSize {
		chunkSize = defaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, readErr := audio.Read(buf)
		if n > 0 {
			if err := stream.SendAudio(buf[:n]); err != nil {
				return sent, fmt.Errorf("failed to stream audio: %w", err)
			}
			sent += int64(n)
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF):
			return sent, nil
		default:
			return sent, fmt.Errorf("audio capture error: %w", readErr)
		}
	}
}

// relayTranscripts feeds provider events through the aggregator and hands
// every result to the listener. It returns when the event channel closes.
func relayTranscripts(events <-chan domain.TranscriptEvent, aggregator *utteranceAggregator, listener ports.RecognitionListener) {
	for event := range events {
		if result, ok := aggregator.Add(event); ok {
			listener.OnResult(result.text, result.final)
		}
	}
}

// drainStream waits for the provider to finish sending results. A provider
// that is still busy after grace is closed.
func drainStream(stream ports.StreamingSession, grace time.Duration) error {
	finished := make(chan error, 1)
	go func() { finished <- stream.Wait() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-finished:
		return err
	case <-timer.C:
	}
	_ = stream.Close()
	return <-finished
}
