package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"MarketScreener/internal/cache"
	"MarketScreener/internal/collector"
	"MarketScreener/internal/model"
	"MarketScreener/internal/screener"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func declining(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 80 - float64(i)
	}
	return closes
}

func newTestServer(t *testing.T, src *collector.MockSource) (*Server, *screener.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord := screener.NewCoordinator(src, cache.New(src, cache.Options{}), screener.Params{Workers: 1})
	return New(ctx, coord), coord
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// blockFirstFetch makes the first history fetch wait until release is closed.
func blockFirstFetch(src *collector.MockSource) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	src.OnHistory = func(context.Context, string) {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	return started, release
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, collector.NewMockSource())
	w, body := do(t, s.Handler(), http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK || body["status"] != "ok" || body["running"] != false {
		t.Errorf("unexpected health response %d %v", w.Code, body)
	}
}

func TestStartRun_Completes(t *testing.T) {
	src := collector.NewMockSource()
	src.AddCandidate("000001", 2, declining(40))
	src.AddCandidate("600001", 1, declining(40))
	s, coord := newTestServer(t, src)

	w, body := do(t, s.Handler(), http.MethodPost, "/api/runs", `{"segment":"sz_main","days":3}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if body["segment"] != "sz_main" || body["days"] != float64(3) {
		t.Errorf("unexpected run %v", body)
	}
	coord.Wait()

	w, body = do(t, s.Handler(), http.MethodGet, "/api/runs/current", "")
	if w.Code != http.StatusOK || body["status"] != string(model.StatusCompleted) {
		t.Fatalf("unexpected current run %d %v", w.Code, body)
	}
	matches, _ := body["matches"].([]interface{})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %v", body["matches"])
	}
	if m := matches[0].(map[string]interface{}); m["symbol"] != "000001" || m["rsi"] != float64(0) {
		t.Errorf("unexpected match %v", m)
	}
}

func TestStartRun_EmptyBodyUsesDefaults(t *testing.T) {
	s, coord := newTestServer(t, collector.NewMockSource())
	w, body := do(t, s.Handler(), http.MethodPost, "/api/runs", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if body["segment"] != "all" || body["days"] != float64(5) {
		t.Errorf("unexpected run %v", body)
	}
	coord.Wait()
}

func TestStartRun_BadRequest(t *testing.T) {
	s, coord := newTestServer(t, collector.NewMockSource())
	for _, body := range []string{`{"days":-1}`, `{"segment":"nasdaq"}`, `{"days":"x"}`, `not json`} {
		if w, _ := do(t, s.Handler(), http.MethodPost, "/api/runs", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
	if coord.Running() {
		t.Error("bad requests must not start a run")
	}
}

func TestStartRun_ConflictAndCancel(t *testing.T) {
	src := collector.NewMockSource()
	src.AddCandidate("600001", 2, declining(40))
	src.AddCandidate("600002", 1, declining(40))
	started, release := blockFirstFetch(src)
	s, coord := newTestServer(t, src)

	if w, _ := do(t, s.Handler(), http.MethodPost, "/api/runs/cancel", ""); w.Code != http.StatusConflict {
		t.Errorf("cancel while idle: expected 409, got %d", w.Code)
	}
	if w, _ := do(t, s.Handler(), http.MethodPost, "/api/runs", "{}"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	<-started

	if w, _ := do(t, s.Handler(), http.MethodPost, "/api/runs", "{}"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 while running, got %d", w.Code)
	}
	if w, _ := do(t, s.Handler(), http.MethodPost, "/api/runs/cancel", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 on cancel, got %d", w.Code)
	}
	close(release)
	coord.Wait()

	if _, body := do(t, s.Handler(), http.MethodGet, "/api/runs/current", ""); body["status"] != string(model.StatusCancelled) {
		t.Errorf("expected cancelled run, got %v", body["status"])
	}
}

func TestWebSocketStream(t *testing.T) {
	src := collector.NewMockSource()
	src.AddCandidate("600001", 2, declining(40))
	src.AddCandidate("600002", 1, declining(40))
	s, coord := newTestServer(t, src)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != EventSnapshot || first.Run == nil || first.Run.Status != model.StatusIdle {
		t.Fatalf("expected idle snapshot first, got %+v", first)
	}

	if err := coord.Start(context.Background(), screener.Request{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var types []string
	matches := 0
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (got %v)", err, types)
		}
		types = append(types, ev.Type)
		if ev.Type == EventMatch {
			matches++
		}
		if ev.Type == EventStatus && ev.Status.Terminal() {
			if ev.Status != model.StatusCompleted {
				t.Errorf("expected completed, got %s", ev.Status)
			}
			break
		}
	}
	want := "[status match progress match progress status]"
	if got := strings.Join([]string{"[", strings.Join(types, " "), "]"}, ""); got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	if matches != 2 {
		t.Errorf("expected 2 matches, got %d", matches)
	}
}
