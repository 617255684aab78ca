package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imnoob59/grokpi/internal/credential"
	"github.com/imnoob59/grokpi/internal/metrics"
	"github.com/imnoob59/grokpi/internal/transport"
)

const (
	setBirthDatePath = "/rest/auth/set-birth-date"
	// verificationBirthDate is the fixed birth date posted during the
	// best-effort age-verification side call.
	verificationBirthDate = "2001-01-01T16:00:00.000Z"
)

// Options tunes the orchestrator's retry policy and the drivers beneath it.
type Options struct {
	// MaxRetries bounds image-flow attempts.
	MaxRetries int
	// VideoMaxRetries bounds video-flow attempts.
	VideoMaxRetries int
	// MaxBlockedRetries caps consecutive blocked outcomes before the call
	// terminates with a blocked failure.
	MaxBlockedRetries int
	// Thresholds configures stage classification and stall heuristics.
	Thresholds Thresholds
	// WebsocketURL is the duplex-channel endpoint.
	WebsocketURL string
	// UpstreamBaseURL is the chunked-HTTP endpoint prefix.
	UpstreamBaseURL string
	// AgeVerification enables the best-effort verification side call; it
	// needs a clearance token to have any chance of succeeding.
	AgeVerification bool
	// Workers sizes the impersonation worker pool.
	Workers int
}

// DefaultOptions returns the production retry policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        5,
		VideoMaxRetries:   3,
		MaxBlockedRetries: 3,
		Thresholds:        DefaultThresholds(),
		WebsocketURL:      "wss://grok.com/ws",
		UpstreamBaseURL:   DefaultUpstreamBaseURL,
		Workers:           4,
	}
}

// imageGenerator is the driver contract the orchestrator retries over.
type imageGenerator interface {
	Generate(ctx context.Context, token string, req ImageRequest, onProgress ProgressFunc) (*Result, error)
}

// Orchestrator wraps the stream drivers with credential rotation, error
// classification and bounded retry. It is the only component allowed to
// talk to the credential pool.
type Orchestrator struct {
	pool          credential.Pool
	session       *transport.SessionBuilder
	images        imageGenerator
	video         videoDriver
	videoFallback videoDriver
	workers       *transport.WorkerPool
	opts          Options
	logger        *slog.Logger
}

// NewOrchestrator wires the drivers and the worker pool. Callers own the
// credential pool and the media store; the orchestrator owns everything
// else and must be closed to release the worker pool.
func NewOrchestrator(pool credential.Pool, session *transport.SessionBuilder, store MediaStore, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	workers := transport.NewWorkerPool(opts.Workers)
	return &Orchestrator{
		pool:    pool,
		session: session,
		images:  NewImageDriver(session, store, opts.WebsocketURL, opts.Thresholds, logger),
		video: NewImpersonatingVideoDriver(
			session, store, opts.UpstreamBaseURL, opts.Thresholds.Attempt,
			nil, workers, logger,
		),
		videoFallback: NewChunkedVideoDriver(
			session, store, opts.UpstreamBaseURL, opts.Thresholds.Attempt, logger,
		),
		workers: workers,
		opts:    opts,
		logger:  logger,
	}
}

// Close releases the impersonation worker pool.
func (o *Orchestrator) Close() {
	o.workers.Close()
}

// GenerateImages runs the image flow to completion: acquire a credential,
// attempt, classify the failure, rotate or return. onProgress may be nil.
func (o *Orchestrator) GenerateImages(ctx context.Context, req ImageRequest, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.GenerationDuration.WithLabelValues("image").Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	blocked := 0

	for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
		token, err := o.selectToken(ctx, req.Credential)
		if err != nil {
			return nil, err
		}

		o.ensureAgeVerified(ctx, token)

		metrics.GenerationAttempts.WithLabelValues("image").Inc()
		res, err := o.images.Generate(ctx, token, req, onProgress)
		if err == nil {
			o.noteSuccess(ctx, token)
			metrics.GenerationOutcomes.WithLabelValues("image", "success").Inc()
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		gerr := AsError(err)
		if gerr == nil {
			// Unexpected transport or runtime error: record against the
			// credential and keep retrying unless pinned.
			o.logger.Error("image attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			o.markFailed(ctx, token, err.Error())
			lastErr = err
			if req.Credential != "" {
				return nil, err
			}
			continue
		}

		switch gerr.Code {
		case CodeBlocked:
			blocked++
			metrics.BlockedDetections.Inc()
			o.logger.Warn("blocked outcome",
				slog.Int("blocked_count", blocked),
				slog.Int("blocked_cap", o.opts.MaxBlockedRetries),
			)
			o.markFailed(ctx, token, "blocked: no final units produced")
			if blocked >= o.opts.MaxBlockedRetries {
				metrics.GenerationOutcomes.WithLabelValues("image", "blocked").Inc()
				return nil, &Error{
					Code:    CodeBlocked,
					Message: fmt.Sprintf("blocked %d times in a row, try again later", blocked),
				}
			}
			if req.Credential != "" {
				return nil, gerr
			}

		case CodeRateLimited, CodeUnauthorized:
			o.markFailed(ctx, token, gerr.Message)
			lastErr = gerr
			if req.Credential != "" {
				metrics.GenerationOutcomes.WithLabelValues("image", string(gerr.Code)).Inc()
				return nil, gerr
			}
			metrics.CredentialRotations.Inc()
			o.logger.Info("rotating credential",
				slog.Int("attempt", attempt+1),
				slog.String("code", string(gerr.Code)),
			)

		default:
			// Other structured failures are not rotation-worthy.
			metrics.GenerationOutcomes.WithLabelValues("image", "failure").Inc()
			return nil, gerr
		}
	}

	metrics.GenerationOutcomes.WithLabelValues("image", "exhausted").Inc()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Message: "all retries failed"}
}

// GenerateVideo runs the video flow to completion, preferring the
// impersonation driver and falling back to the plain chunked driver when
// the impersonation path fails unexpectedly.
func (o *Orchestrator) GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.GenerationDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	}()

	var lastErr error

	for attempt := 0; attempt < o.opts.VideoMaxRetries; attempt++ {
		token, err := o.selectToken(ctx, req.Credential)
		if err != nil {
			return nil, err
		}

		o.ensureAgeVerified(ctx, token)

		metrics.GenerationAttempts.WithLabelValues("video").Inc()
		res, err := o.generateVideoOnce(ctx, token, req)
		if err == nil {
			o.noteSuccess(ctx, token)
			metrics.GenerationOutcomes.WithLabelValues("video", "success").Inc()
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		gerr := AsError(err)
		if gerr == nil {
			o.logger.Error("video attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			o.markFailed(ctx, token, err.Error())
			lastErr = err
			if req.Credential != "" {
				return nil, err
			}
			continue
		}

		switch gerr.Code {
		case CodeRateLimited, CodeUnauthorized:
			o.markFailed(ctx, token, gerr.Message)
			lastErr = gerr
			if req.Credential != "" {
				metrics.GenerationOutcomes.WithLabelValues("video", string(gerr.Code)).Inc()
				return nil, gerr
			}
			metrics.CredentialRotations.Inc()
			o.logger.Info("rotating credential",
				slog.Int("attempt", attempt+1),
				slog.String("code", string(gerr.Code)),
			)

		default:
			metrics.GenerationOutcomes.WithLabelValues("video", "failure").Inc()
			return nil, gerr
		}
	}

	metrics.GenerationOutcomes.WithLabelValues("video", "exhausted").Inc()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Message: "all retries failed"}
}

// generateVideoOnce prefers the impersonation driver; structured failures
// from it are authoritative, but an unexpected error switches to the plain
// transport for the same attempt.
func (o *Orchestrator) generateVideoOnce(ctx context.Context, token string, req VideoRequest) (*Result, error) {
	if o.video == nil {
		return o.videoFallback.Generate(ctx, token, req)
	}

	res, err := o.video.Generate(ctx, token, req)
	if err == nil || AsError(err) != nil || ctx.Err() != nil {
		return res, err
	}

	o.logger.Warn("impersonation path failed, falling back",
		slog.String("driver", o.video.Name()),
		slog.String("error", err.Error()),
	)
	return o.videoFallback.Generate(ctx, token, req)
}

// selectToken returns the pinned credential or acquires one from the pool.
func (o *Orchestrator) selectToken(ctx context.Context, pinned string) (string, error) {
	if pinned != "" {
		return pinned, nil
	}
	token, err := o.pool.Acquire(ctx)
	if err != nil {
		return "", &Error{Message: "no credentials available: " + err.Error()}
	}
	return token, nil
}

// ensureAgeVerified performs the one-shot best-effort age-verification side
// call for credentials whose flag is unset. Verification failures never
// block the generation attempt.
func (o *Orchestrator) ensureAgeVerified(ctx context.Context, token string) {
	if !o.opts.AgeVerification {
		return
	}

	verified, err := o.pool.AgeVerified(ctx, token)
	if err != nil || verified {
		return
	}

	ok, err := transport.Call(ctx, o.workers, func() (bool, error) {
		return o.verifyAge(ctx, token)
	})
	if err != nil || !ok {
		o.logger.Warn("age verification failed, continuing",
			slog.Any("error", err),
		)
		return
	}

	if err := o.pool.SetAgeVerified(ctx, token, true); err != nil {
		o.logger.Warn("persist age verification failed",
			slog.String("error", err.Error()),
		)
	}
}

// verifyAge posts the fixed birth date over the impersonation transport.
func (o *Orchestrator) verifyAge(ctx context.Context, token string) (bool, error) {
	body, err := json.Marshal(birthDateRequest{BirthDate: verificationBirthDate})
	if err != nil {
		return false, err
	}

	profile := transport.DefaultProfiles[0]
	client := o.session.ImpersonatingClient(profile, 30*time.Second)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.UpstreamBaseURL+setBirthDatePath, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header = o.session.HTTPHeaders(token, o.opts.UpstreamBaseURL+"/")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// noteSuccess reports a successful attempt to the pool. Pool errors are
// logged and ignored.
func (o *Orchestrator) noteSuccess(ctx context.Context, token string) {
	if err := o.pool.MarkSuccess(ctx, token); err != nil {
		o.logger.Warn("mark success failed", slog.String("error", err.Error()))
	}
	if err := o.pool.RecordUsage(ctx, token); err != nil {
		o.logger.Warn("record usage failed", slog.String("error", err.Error()))
	}
}

// markFailed reports a failed attempt to the pool. Pool errors are logged
// and ignored.
func (o *Orchestrator) markFailed(ctx context.Context, token, reason string) {
	if err := o.pool.MarkFailed(ctx, token, reason); err != nil {
		o.logger.Warn("mark failed failed", slog.String("error", err.Error()))
	}
}
