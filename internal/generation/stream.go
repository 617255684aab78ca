package generation

import (
	"context"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventProgress carries a stage-advancing unit update.
	EventProgress EventType = "progress"
	// EventResult is the single terminal record of a stream.
	EventResult EventType = "result"
)

// Event is one record of an incremental generation stream. Exactly one
// terminal record (Type == EventResult) is produced per stream; it carries
// either Result or Err.
type Event struct {
	Type     EventType
	Progress *Progress
	Result   *Result
	Err      error
}

// streamBuffer bounds the hand-off queue between the background
// orchestrator task and the consumer.
const streamBuffer = 16

// GenerateImagesStream runs GenerateImages in the background and exposes
// its progress as a pull-based event sequence. The returned channel closes
// after the terminal event. Cancelling ctx stops the background task and
// abandons the queue; nothing is emitted afterwards.
func (o *Orchestrator) GenerateImagesStream(ctx context.Context, req ImageRequest) <-chan Event {
	events := make(chan Event, streamBuffer)

	go func() {
		defer close(events)

		onProgress := func(ctx context.Context, p Progress) {
			snapshot := p
			select {
			case events <- Event{Type: EventProgress, Progress: &snapshot}:
			case <-ctx.Done():
			}
		}

		res, err := o.GenerateImages(ctx, req, onProgress)

		terminal := Event{Type: EventResult, Result: res, Err: err}
		select {
		case events <- terminal:
		case <-ctx.Done():
		}
	}()

	return events
}
