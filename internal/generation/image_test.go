package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imnoob59/grokpi/internal/transport"
)

// testThresholds shrinks the classifier and stall windows so attempts
// resolve in milliseconds.
func testThresholds() Thresholds {
	return Thresholds{
		MediumSize:     100,
		FinalSize:      200,
		StallGrace:     80 * time.Millisecond,
		StallReadGrace: 60 * time.Millisecond,
		IdleComplete:   60 * time.Millisecond,
		ReadTimeout:    20 * time.Millisecond,
		Attempt:        3 * time.Second,
	}
}

func blobOfSize(n int) string {
	raw := make([]byte, n)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// finalBlob and mediumBlob clear the shrunken size thresholds.
var (
	finalBlob  = blobOfSize(180) // 240 chars encoded
	mediumBlob = blobOfSize(90)  // 120 chars encoded
)

func imageEvent(id, ext, blob string) channelEvent {
	return channelEvent{
		Type: "image",
		Blob: blob,
		URL:  "https://assets.grok.com/images/" + id + "." + ext,
	}
}

// wsServer upgrades each connection, waits for the job envelope, then runs
// script with the connection.
func wsServer(t *testing.T, script func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var envelope jobEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			t.Errorf("read envelope: %v", err)
			return
		}
		if envelope.Type != "conversation.item.create" {
			t.Errorf("unexpected envelope type %q", envelope.Type)
		}

		script(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newImageTestDriver(t *testing.T, wsURL string, store MediaStore) *ImageDriver {
	t.Helper()
	session, err := transport.NewSessionBuilder()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewImageDriver(session, store, wsURL, testThresholds(), logger)
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Logf("write: %v", err)
	}
}

func TestImageDriver_Generate(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		sendJSON(t, conn, imageEvent("aaa111", "png", mediumBlob))
		sendJSON(t, conn, imageEvent("bbb222", "png", mediumBlob))
		sendJSON(t, conn, imageEvent("aaa111", "jpg", finalBlob))
		sendJSON(t, conn, imageEvent("bbb222", "jpg", finalBlob))
		// Hold the connection open; the driver closes once the target is hit.
		time.Sleep(time.Second)
	})
	defer srv.Close()

	store := &stubStore{}
	driver := newImageTestDriver(t, wsURL, store)

	var updates []Progress
	onProgress := func(_ context.Context, p Progress) { updates = append(updates, p) }

	res, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "a fox", Count: 2}, onProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.URLs, 2)
	assert.Equal(t, 2, store.savedImages)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Final)
	assert.Equal(t, 2, last.Completed)
}

func TestImageDriver_StallBecomesBlocked(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		sendJSON(t, conn, imageEvent("aaa111", "png", mediumBlob))
		// Never a final unit; the stall heuristic must fire.
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	driver := newImageTestDriver(t, wsURL, &stubStore{})

	start := time.Now()
	_, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "p", Count: 2}, nil)
	elapsed := time.Since(start)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeBlocked, gerr.Code)
	assert.Less(t, elapsed, time.Second, "stall must fire well before the attempt deadline")
}

func TestImageDriver_RateLimitIsTerminal(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		sendJSON(t, conn, channelEvent{Type: "error", ErrCode: "rate_limit_exceeded", ErrMsg: "slow down"})
		time.Sleep(time.Second)
	})
	defer srv.Close()

	driver := newImageTestDriver(t, wsURL, &stubStore{})
	_, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "p", Count: 2}, nil)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, CodeRateLimited, gerr.Code)
}

func TestImageDriver_ErrorEventSurfacesOnClose(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		sendJSON(t, conn, channelEvent{Type: "error", ErrCode: "content_policy", ErrMsg: "rejected"})
		// Close immediately; the recorded error classifies the empty outcome.
	})
	defer srv.Close()

	driver := newImageTestDriver(t, wsURL, &stubStore{})
	_, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "p", Count: 2}, nil)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrorCode("content_policy"), gerr.Code)
	assert.Equal(t, "rejected", gerr.Message)
}

func TestImageDriver_EmptyCloseIsGenericFailure(t *testing.T) {
	srv, wsURL := wsServer(t, func(*websocket.Conn) {})
	defer srv.Close()

	driver := newImageTestDriver(t, wsURL, &stubStore{})
	_, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "p", Count: 2}, nil)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrorCode(""), gerr.Code)
}

func TestImageDriver_IdleCompletesWithPartialCount(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		sendJSON(t, conn, imageEvent("aaa111", "jpg", finalBlob))
		// One of two finals, then silence: idle completion returns the
		// partial set.
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	store := &stubStore{}
	driver := newImageTestDriver(t, wsURL, store)

	res, err := driver.Generate(context.Background(), "tok", ImageRequest{Prompt: "p", Count: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, store.savedImages)
}

func TestImageDriver_CancelledContext(t *testing.T) {
	srv, wsURL := wsServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	driver := newImageTestDriver(t, wsURL, &stubStore{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := driver.Generate(ctx, "tok", ImageRequest{Prompt: "p", Count: 2}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
