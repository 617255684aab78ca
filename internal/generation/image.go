package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imnoob59/grokpi/internal/transport"
)

// ImageRequest describes one image generation call.
type ImageRequest struct {
	// Prompt is the generation prompt.
	Prompt string
	// AspectRatio is the requested aspect ratio, e.g. "2:3".
	AspectRatio string
	// Count is the number of final units wanted.
	Count int
	// EnableNSFW toggles the content-policy flag on the job envelope.
	EnableNSFW bool
	// Credential pins a specific token; failover is disabled when set.
	Credential string
}

// ImageDriver drives the duplex channel for image generation: it sends the
// job-creation envelope, classifies inbound partial results into quality
// stages, and applies the stall and idle-completion heuristics.
type ImageDriver struct {
	session    *transport.SessionBuilder
	store      MediaStore
	wsURL      string
	thresholds Thresholds
	logger     *slog.Logger
}

// NewImageDriver creates an ImageDriver.
func NewImageDriver(session *transport.SessionBuilder, store MediaStore, wsURL string, th Thresholds, logger *slog.Logger) *ImageDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageDriver{
		session:    session,
		store:      store,
		wsURL:      wsURL,
		thresholds: th,
		logger:     logger,
	}
}

// Generate runs one attempt over the duplex channel. It returns a
// structured *Error for protocol failures and the blocked heuristic, and
// plain errors for transport problems.
func (d *ImageDriver) Generate(ctx context.Context, token string, req ImageRequest, onProgress ProgressFunc) (*Result, error) {
	dialer := d.session.WebsocketDialer()
	conn, _, err := dialer.DialContext(ctx, d.wsURL, d.session.WebsocketHeaders(token))
	if err != nil {
		return nil, fmt.Errorf("generation: connect duplex channel: %w", err)
	}
	defer conn.Close()

	// Cancellation must release the connection promptly; the read loop
	// below only notices once the blocking read fails.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watcherDone:
		}
	}()

	envelope := jobEnvelope{
		Type:      "conversation.item.create",
		Timestamp: time.Now().UnixMilli(),
		Item: jobEnvelopeItem{
			Type: "message",
			Content: []jobContent{{
				RequestID: uuid.NewString(),
				Text:      req.Prompt,
				Type:      "input_text",
				Properties: jobProperties{
					EnableNSFW:  req.EnableNSFW,
					AspectRatio: req.AspectRatio,
				},
			}},
		},
	}
	if err := conn.WriteJSON(envelope); err != nil {
		return nil, fmt.Errorf("generation: send job envelope: %w", err)
	}

	d.logger.Info("image job submitted",
		slog.String("prompt", truncate(req.Prompt, 50)),
		slog.Int("count", req.Count),
		slog.String("aspect_ratio", req.AspectRatio),
	)

	// Reader goroutine so per-read timeouts do not poison the connection.
	msgCh := make(chan []byte, 16)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-watcherDone:
				return
			}
		}
	}()

	job := newGenerationJob(req.Count)
	var recorded *Error
	start := time.Now()
	lastActivity := start

	for time.Since(start) < d.thresholds.Attempt {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generation: attempt cancelled: %w", ctx.Err())

		case err := <-readErrCh:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("generation: attempt cancelled: %w", ctx.Err())
			}
			d.logger.Warn("duplex channel closed",
				slog.String("error", err.Error()),
			)
			return d.finish(ctx, job, recorded)

		case data := <-msgCh:
			lastActivity = time.Now()
			done, err := d.handleEvent(ctx, job, data, &recorded, onProgress)
			if err != nil {
				return nil, err
			}
			if done {
				return d.finish(ctx, job, recorded)
			}
			if stalled(job, d.thresholds.StallGrace, time.Now()) {
				d.logger.Warn("stall detected on receive path",
					slog.Duration("since_first_medium", time.Since(job.firstMediumAt)),
				)
				return nil, blockedError()
			}

		case <-time.After(d.thresholds.ReadTimeout):
			if stalled(job, d.thresholds.StallReadGrace, time.Now()) {
				d.logger.Warn("stall detected on timeout path",
					slog.Duration("since_first_medium", time.Since(job.firstMediumAt)),
				)
				return nil, blockedError()
			}
			if job.completed() > 0 && time.Since(lastActivity) > d.thresholds.IdleComplete {
				d.logger.Info("idle completion",
					slog.Int("completed", job.completed()),
				)
				return d.finish(ctx, job, recorded)
			}
		}
	}

	return d.finish(ctx, job, recorded)
}

// handleEvent routes one inbound event. It reports whether the attempt is
// complete and returns an error only for terminal protocol failures.
func (d *ImageDriver) handleEvent(ctx context.Context, job *generationJob, data []byte, recorded **Error, onProgress ProgressFunc) (bool, error) {
	var ev channelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		// Malformed inbound records are dropped, never fatal.
		return false, nil
	}

	switch ev.Type {
	case "image":
		if ev.Blob == "" || ev.URL == "" {
			return false, nil
		}
		id := extractUnitID(ev.URL)
		if id == "" {
			return false, nil
		}

		size := len(ev.Blob)
		unit := MediaUnit{
			ID:        id,
			Stage:     d.thresholds.classify(ev.URL, size),
			Blob:      ev.Blob,
			Size:      size,
			SourceURL: ev.URL,
		}

		applied := job.observe(unit, time.Now())
		if applied == nil {
			return false, nil
		}

		completed := job.completed()
		d.logger.Info("image unit update",
			slog.String("unit_id", truncate(id, 8)),
			slog.String("stage", applied.Stage.String()),
			slog.Int("size", size),
			slog.Int("completed", completed),
			slog.Int("target", job.target),
		)

		if onProgress != nil {
			onProgress(ctx, Progress{
				UnitID:    applied.ID,
				Stage:     applied.Stage,
				Size:      applied.Size,
				Final:     applied.Final(),
				Completed: completed,
				Target:    job.target,
			})
		}

		return completed >= job.target, nil

	case "error":
		d.logger.Warn("protocol error event",
			slog.String("err_code", ev.ErrCode),
			slog.String("err_msg", ev.ErrMsg),
		)
		*recorded = &Error{Code: ErrorCode(ev.ErrCode), Message: ev.ErrMsg}
		if ev.ErrCode == string(CodeRateLimited) {
			return false, *recorded
		}
	}

	return false, nil
}

// finish selects units to keep and persists them, or classifies the empty
// outcome.
func (d *ImageDriver) finish(ctx context.Context, job *generationJob, recorded *Error) (*Result, error) {
	if job.completed() == 0 {
		if recorded != nil {
			return nil, recorded
		}
		if job.blocked() {
			return nil, blockedError()
		}
		return nil, &Error{Message: "no image data received"}
	}

	var urls []string
	for _, u := range job.keep() {
		data, err := base64.StdEncoding.DecodeString(u.Blob)
		if err != nil {
			d.logger.Warn("undecodable unit payload",
				slog.String("unit_id", truncate(u.ID, 8)),
			)
			continue
		}
		url, err := d.store.SaveImage(ctx, u.ID, data, u.Final())
		if err != nil {
			d.logger.Error("persist image failed",
				slog.String("unit_id", truncate(u.ID, 8)),
				slog.String("error", err.Error()),
			)
			continue
		}
		urls = append(urls, url)
	}

	if len(urls) == 0 {
		return nil, &Error{Message: "no image data received"}
	}

	return &Result{URLs: urls, Count: len(urls)}, nil
}

// stalled reports whether the attempt sits in the blocked state: a medium
// unit exists, no final ever arrived, and the grace window elapsed.
func stalled(job *generationJob, grace time.Duration, now time.Time) bool {
	if job.firstMediumAt.IsZero() || job.completed() > 0 {
		return false
	}
	return now.Sub(job.firstMediumAt) > grace
}

func blockedError() *Error {
	return &Error{
		Code:    CodeBlocked,
		Message: "generation blocked: no final units produced",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
