package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/imnoob59/grokpi/internal/transport"
)

// VideoRequest describes one video generation call.
type VideoRequest struct {
	// Prompt is the generation prompt.
	Prompt string
	// AspectRatio is the requested aspect ratio, e.g. "16:9".
	AspectRatio string
	// DurationSeconds is the requested clip length.
	DurationSeconds int
	// Resolution is the requested tier, e.g. "480p" or "720p". The 720p
	// tier triggers a best-effort upscale exchange.
	Resolution string
	// Preset names the creative preset mapped to a mode flag.
	Preset string
	// Credential pins a specific token; failover is disabled when set.
	Credential string
}

// DefaultUpstreamBaseURL is the production endpoint prefix for the
// chunked-HTTP workflow.
const DefaultUpstreamBaseURL = "https://grok.com"

// assetsBaseURL is the CDN host that host-relative media URLs in the
// event stream resolve against.
const assetsBaseURL = "https://assets.grok.com"

const (
	mediaPostCreatePath   = "/rest/media/post/create"
	appChatNewPath        = "/rest/app-chat/conversations/new"
	videoUpscalePath      = "/rest/media/video/upscale"
	streamTerminator      = "[DONE]"
	maxDiagnosticPreviews = 3
)

// presetModes maps creative preset names to the mode flag appended to the
// prompt text. Unknown presets fall back to normal.
var presetModes = map[string]string{
	"fun":    "--mode=extremely-crazy",
	"normal": "--mode=normal",
	"spicy":  "--mode=extremely-spicy-or-crazy",
	"custom": "--mode=custom",
}

// videoDriver is one interchangeable implementation of the chunked-stream
// video workflow.
type videoDriver interface {
	// Name identifies the driver in logs.
	Name() string
	// Generate runs the two-step video workflow with the given credential.
	Generate(ctx context.Context, token string, req VideoRequest) (*Result, error)
}

// ChunkedVideoDriver drives the video workflow over the plain chunked-HTTP
// transport.
type ChunkedVideoDriver struct {
	flow videoFlow
}

// NewChunkedVideoDriver creates the plain-transport video driver.
func NewChunkedVideoDriver(session *transport.SessionBuilder, store MediaStore, baseURL string, timeout time.Duration, logger *slog.Logger) *ChunkedVideoDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkedVideoDriver{
		flow: videoFlow{
			session: session,
			store:   store,
			baseURL: baseURL,
			timeout: timeout,
			logger:  logger,
		},
	}
}

// Name implements videoDriver.
func (d *ChunkedVideoDriver) Name() string { return "chunked" }

// Generate implements videoDriver.
func (d *ChunkedVideoDriver) Generate(ctx context.Context, token string, req VideoRequest) (*Result, error) {
	client := d.flow.session.HTTPClient(d.flow.timeout)
	return d.flow.run(ctx, client, token, req)
}

// ImpersonatingVideoDriver drives the video workflow over the
// browser-impersonation transport, trying an ordered list of fingerprint
// profiles. Profile rotation happens only on the transport-blocked
// signature; any other failure returns immediately. Calls run on a
// dedicated worker pool so the synchronous transport never blocks the
// caller.
type ImpersonatingVideoDriver struct {
	flow     videoFlow
	profiles []transport.Profile
	workers  *transport.WorkerPool
}

// NewImpersonatingVideoDriver creates the impersonation-transport video
// driver. An empty profile list falls back to transport.DefaultProfiles.
func NewImpersonatingVideoDriver(session *transport.SessionBuilder, store MediaStore, baseURL string, timeout time.Duration, profiles []transport.Profile, workers *transport.WorkerPool, logger *slog.Logger) *ImpersonatingVideoDriver {
	if logger == nil {
		logger = slog.Default()
	}
	if len(profiles) == 0 {
		profiles = transport.DefaultProfiles
	}
	return &ImpersonatingVideoDriver{
		flow: videoFlow{
			session: session,
			store:   store,
			baseURL: baseURL,
			timeout: timeout,
			logger:  logger,
		},
		profiles: profiles,
		workers:  workers,
	}
}

// Name implements videoDriver.
func (d *ImpersonatingVideoDriver) Name() string { return "impersonating" }

// Generate implements videoDriver.
func (d *ImpersonatingVideoDriver) Generate(ctx context.Context, token string, req VideoRequest) (*Result, error) {
	var lastErr error
	for _, profile := range d.profiles {
		client := d.flow.session.ImpersonatingClient(profile, d.flow.timeout)
		res, err := transport.Call(ctx, d.workers, func() (*Result, error) {
			return d.flow.run(ctx, client, token, req)
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !transportBlocked(err) {
			return nil, err
		}
		d.flow.logger.Warn("profile blocked, trying next",
			slog.String("profile", profile.Name),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

// transportBlocked reports the signature that justifies trying the next
// fingerprint profile: a failed post creation or an explicit 403.
func transportBlocked(err error) bool {
	gerr := AsError(err)
	if gerr == nil {
		return false
	}
	return gerr.Code == CodeVideoPostFailed || strings.Contains(gerr.Message, "(403)")
}

// videoFlow is the transport-independent two-step workflow shared by both
// drivers.
type videoFlow struct {
	session *transport.SessionBuilder
	store   MediaStore
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func (f *videoFlow) run(ctx context.Context, client *http.Client, token string, req VideoRequest) (*Result, error) {
	postID, err := f.createPost(ctx, client, token, req.Prompt)
	if err != nil {
		return nil, err
	}

	payload := buildChatRequest(req, postID)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("generation: marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+appChatNewPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generation: create chat request: %w", err)
	}
	httpReq.Header = f.session.HTTPHeaders(token, f.baseURL+"/imagine")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet := readSnippet(resp.Body)
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
		case http.StatusUnauthorized:
			return nil, &Error{Code: CodeUnauthorized, Message: "unauthorized"}
		default:
			return nil, &Error{Message: fmt.Sprintf("video chat failed (%d) %s", resp.StatusCode, snippet)}
		}
	}

	final, previews, ok := consumeVideoStream(resp.Body)
	if !ok {
		return nil, &Error{
			Code:     CodeVideoNotSupported,
			Message:  "no qualifying video progress event in stream",
			Previews: previews,
		}
	}

	videoURL := absoluteMediaURL(f.upscale(ctx, client, token, final.VideoURL, req.Resolution))

	savedURL, err := f.store.SaveVideo(ctx, videoURL, token)
	if err != nil {
		// Persistence is best effort; hand back the remote URL.
		f.logger.Warn("persist video failed",
			slog.String("error", err.Error()),
		)
		savedURL = videoURL
	}

	return &Result{
		URLs:         []string{savedURL},
		Count:        1,
		ThumbnailURL: final.ThumbnailImageURL,
	}, nil
}

// createPost creates the media post that anchors the video job and returns
// its identifier.
func (f *videoFlow) createPost(ctx context.Context, client *http.Client, token, prompt string) (string, error) {
	body, err := json.Marshal(mediaPostRequest{
		MediaType: "MEDIA_POST_TYPE_VIDEO",
		Prompt:    prompt,
	})
	if err != nil {
		return "", fmt.Errorf("generation: marshal media post: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+mediaPostCreatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generation: create media post request: %w", err)
	}
	httpReq.Header = f.session.HTTPHeaders(token, f.baseURL+"/imagine")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generation: media post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet := readSnippet(resp.Body)
		return "", &Error{
			Code:    CodeVideoPostFailed,
			Message: fmt.Sprintf("media post failed (%d) %s", resp.StatusCode, snippet),
		}
	}

	var post mediaPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return "", &Error{Code: CodeVideoPostFailed, Message: "undecodable media post response"}
	}
	if post.Post.ID == "" {
		return "", &Error{Code: CodeVideoPostFailed, Message: "no post id returned"}
	}
	return post.Post.ID, nil
}

// upscale exchanges the raw video URL for a higher-quality one when the
// 720p tier was requested, falling back silently to the original URL.
func (f *videoFlow) upscale(ctx context.Context, client *http.Client, token, videoURL, resolution string) string {
	if resolution != "720p" {
		return videoURL
	}

	videoID := extractVideoID(videoURL)
	if videoID == "" {
		return videoURL
	}

	body, err := json.Marshal(upscaleRequest{VideoID: videoID})
	if err != nil {
		return videoURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+videoUpscalePath, bytes.NewReader(body))
	if err != nil {
		return videoURL
	}
	httpReq.Header = f.session.HTTPHeaders(token, f.baseURL+"/imagine")

	resp, err := client.Do(httpReq)
	if err != nil {
		return videoURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return videoURL
	}

	var up upscaleResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return videoURL
	}
	if up.HDMediaURL == "" {
		return videoURL
	}
	return up.HDMediaURL
}

// consumeVideoStream reads newline-delimited, optionally data:-prefixed
// JSON records until a qualifying progress event, the terminator line, or
// end of stream. Malformed lines are dropped. It returns the completing
// progress object, the collected preview thumbnails (capped), and whether
// completion was observed.
func consumeVideoStream(r io.Reader) (videoProgress, []string, bool) {
	var previews []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" {
			continue
		}
		if line == streamTerminator {
			break
		}

		var record chatStreamRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}

		vp := record.Result.Response.StreamingVideoGenerationResponse
		if vp.ThumbnailImageURL != "" && len(previews) < maxDiagnosticPreviews && !contains(previews, vp.ThumbnailImageURL) {
			previews = append(previews, vp.ThumbnailImageURL)
		}
		if vp.Progress >= 100 && vp.VideoURL != "" {
			return vp, previews, true
		}
	}

	return videoProgress{}, previews, false
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/generated/([0-9a-fA-F-]{32,36})/`),
	regexp.MustCompile(`/([0-9a-fA-F-]{32,36})/generated_video`),
}

// absoluteMediaURL resolves the host-relative media paths the event
// stream sometimes carries against the assets CDN host. Absolute URLs
// pass through unchanged.
func absoluteMediaURL(raw string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return assetsBaseURL + "/" + strings.TrimPrefix(raw, "/")
}

// extractVideoID pulls the video identifier out of a generated-video URL.
func extractVideoID(videoURL string) string {
	if videoURL == "" {
		return ""
	}
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(videoURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// buildChatRequest assembles the chat-style request referencing the media
// post, with the preset's mode flag appended to the prompt text.
func buildChatRequest(req VideoRequest, postID string) chatRequest {
	mode, ok := presetModes[req.Preset]
	if !ok {
		mode = presetModes["normal"]
	}

	cr := chatRequest{
		DeviceEnvInfo: deviceEnvInfo{
			DevicePixelRatio: 2,
			ScreenWidth:      1920,
			ScreenHeight:     1080,
			ViewportWidth:    1920,
			ViewportHeight:   980,
		},
		DisableMemory:         true,
		EnableImageGeneration: true,
		EnableImageStreaming:  true,
		EnableSideBySide:      true,
		FileAttachments:       []string{},
		ImageAttachments:      []string{},
		ImageGenerationCount:  2,
		Message:               strings.TrimSpace(req.Prompt + " " + mode),
		ModelName:             "grok-3",
		ReturnImageBytes:      false,
		SendFinalMetadata:     true,
		Temporary:             true,
		ToolOverrides:         toolOverrides{VideoGen: true},
	}
	cr.ResponseMetadata.RequestModelDetails.ModelID = "grok-3"
	cr.ResponseMetadata.ModelConfigOverride.ModelMap.VideoGenModelConfig = videoGenModelConfig{
		AspectRatio:    req.AspectRatio,
		ParentPostID:   postID,
		ResolutionName: req.Resolution,
		VideoLength:    req.DurationSeconds,
	}
	return cr
}

// readSnippet reads a short, log-safe prefix of a response body.
func readSnippet(r io.Reader) string {
	buf := make([]byte, 300)
	n, _ := io.ReadFull(r, buf)
	return string(buf[:n])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
