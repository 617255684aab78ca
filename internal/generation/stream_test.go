package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imnoob59/grokpi/internal/credential"
)

// progressingImages emits a fixed number of progress updates and then the
// scripted outcome.
type progressingImages struct {
	updates int
	outcome func() (*Result, error)
	started chan struct{}
	release chan struct{}
}

func (s *progressingImages) Generate(ctx context.Context, _ string, _ ImageRequest, onProgress ProgressFunc) (*Result, error) {
	if s.started != nil {
		close(s.started)
	}
	for i := 0; i < s.updates; i++ {
		if onProgress != nil {
			onProgress(ctx, Progress{UnitID: "u1", Stage: StageMedium, Completed: 0, Target: 1})
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.outcome()
}

func TestGenerateImagesStream_ProgressThenTerminal(t *testing.T) {
	pool := credential.NewMemoryPool([]string{"tok-a"})
	images := &progressingImages{
		updates: 3,
		outcome: succeed(&Result{URLs: []string{"http://x/a.jpg"}, Count: 1}),
	}
	o := newTestOrchestrator(pool, images, nil, nil)

	var progress, terminal int
	var last Event
	for ev := range o.GenerateImagesStream(context.Background(), ImageRequest{Prompt: "p", Count: 1}) {
		switch ev.Type {
		case EventProgress:
			progress++
			require.NotNil(t, ev.Progress)
		case EventResult:
			terminal++
			last = ev
		}
	}

	assert.Equal(t, 3, progress)
	require.Equal(t, 1, terminal, "exactly one terminal event")
	require.NoError(t, last.Err)
	assert.Equal(t, 1, last.Result.Count)
}

func TestGenerateImagesStream_TerminalCarriesFailure(t *testing.T) {
	pool := credential.NewMemoryPool([]string{"tok-a"})
	images := &progressingImages{
		outcome: fail(&Error{Code: CodeBlocked, Message: "no final units"}),
	}
	o := newTestOrchestrator(pool, images, nil, nil)

	var events []Event
	for ev := range o.GenerateImagesStream(context.Background(), ImageRequest{Prompt: "p", Count: 1}) {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	var gerr *Error
	require.ErrorAs(t, events[0].Err, &gerr)
	assert.Equal(t, CodeBlocked, gerr.Code)
}

func TestGenerateImagesStream_CancelStopsBackgroundTask(t *testing.T) {
	pool := credential.NewMemoryPool([]string{"tok-a"})
	images := &progressingImages{
		outcome: succeed(&Result{Count: 1}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := newTestOrchestrator(pool, images, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := o.GenerateImagesStream(ctx, ImageRequest{Prompt: "p", Count: 1})

	<-images.started
	cancel()

	// The channel must close within a bounded time once the context is
	// cancelled, without a terminal result being forced through.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}
