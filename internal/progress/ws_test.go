package progress_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/progress"
	"github.com/m-mizutani/gt"
	"go.uber.org/zap/zaptest"
)

func dialWS(t *testing.T, h *progress.Hub, query string) *gorillaWS.Conn {
	t.Helper()
	srv := httptest.NewServer(progress.NewWSHandler(h, 16, zaptest.NewLogger(t)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWSStreamsEventsForIdentity(t *testing.T) {
	h := progress.NewHub(16)
	conn := dialWS(t, h, "?identity=Alice")

	h.Publish(model.Event{Kind: model.EventProgress, Identity: "bob", Position: 1})
	h.Publish(model.Event{Kind: model.EventProgress, Identity: "alice", Position: 2, Handle: "carol", Success: true})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Event
	gt.NoError(t, conn.ReadJSON(&got))
	gt.Equal(t, got.Kind, model.EventProgress)
	gt.Equal(t, got.Position, 2)
	gt.Equal(t, got.Handle, "carol")
	gt.True(t, got.Success)
}

func TestWSIdentityFilterAcceptsAtPrefix(t *testing.T) {
	h := progress.NewHub(16)
	conn := dialWS(t, h, "?identity=%40Alice")

	h.Publish(model.Event{Kind: model.EventLog, Identity: "alice", Message: "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Event
	gt.NoError(t, conn.ReadJSON(&got))
	gt.Equal(t, got.Message, "hello")
}

func readFrame(t *testing.T, conn *gorillaWS.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	gt.NoError(t, err)
	var m map[string]any
	gt.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestWSFramesKeepZeroValues(t *testing.T) {
	h := progress.NewHub(16)
	conn := dialWS(t, h, "?identity=alice")

	h.Publish(model.Event{Kind: model.EventProgress, Identity: "alice", Position: 1, Total: 2, Handle: "bob", Error: "boom"})
	h.Publish(model.Event{Kind: model.EventWaiting, Identity: "alice"})
	h.Publish(model.Event{Kind: model.EventSummary, Identity: "alice", Total: 2, FailureCount: 2})

	failed := readFrame(t, conn)
	success, ok := failed["success"]
	gt.True(t, ok)
	gt.Equal(t, success, any(false))

	waiting := readFrame(t, conn)
	secs, ok := waiting["seconds"]
	gt.True(t, ok)
	gt.Equal(t, secs, any(float64(0)))

	summary := readFrame(t, conn)
	sc, ok := summary["successCount"]
	gt.True(t, ok)
	gt.Equal(t, sc, any(float64(0)))
	gt.Equal(t, summary["failureCount"], any(float64(2)))
	gt.Equal(t, summary["total"], any(float64(2)))
}

func TestWSUnsubscribesOnClose(t *testing.T) {
	h := progress.NewHub(16)
	conn := dialWS(t, h, "")
	gt.Equal(t, h.Subscribers(), 1)

	_ = conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer still subscribed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
