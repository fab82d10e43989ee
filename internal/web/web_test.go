package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/five82/alloclog/internal/logging"
	"github.com/five82/alloclog/internal/logtail"
	"github.com/five82/alloclog/internal/nomad"
	"github.com/five82/alloclog/internal/state"
	"github.com/five82/alloclog/internal/stats"
	"github.com/five82/alloclog/internal/tasklog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeController records calls and serves canned output.
type fakeController struct {
	mu      sync.Mutex
	calls   []string
	status  tasklog.Status
	html    string
	updates chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		status:  tasklog.Status{Params: tasklog.Params{Task: "web"}, Session: "s1"},
		html:    "hello",
		updates: make(chan struct{}, 1),
	}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) StartStreaming(context.Context) {
	f.record("stream")
	f.mu.Lock()
	f.status.State = tasklog.StateStreaming
	f.mu.Unlock()
}

func (f *fakeController) GotoHead(context.Context) {
	f.record("head")
	f.mu.Lock()
	f.status.Pointer = logtail.PointerHead
	f.mu.Unlock()
}

func (f *fakeController) GotoTail(context.Context) { f.record("tail") }

func (f *fakeController) Stop() { f.record("stop") }

func (f *fakeController) Switch(_ context.Context, p tasklog.Params) {
	f.record("switch " + p.Task + " " + p.Type)
	f.mu.Lock()
	f.status.Params = p
	f.mu.Unlock()
}

func (f *fakeController) Status() tasklog.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html
}

func (f *fakeController) Updates() <-chan struct{} { return f.updates }

func (f *fakeController) setHTML(html string) {
	f.mu.Lock()
	f.html = html
	f.mu.Unlock()
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

func newTestServer(ctrl LogController, store *state.Store, registry *stats.Registry) *Server {
	return New(Options{
		Controller: ctrl,
		Store:      store,
		Stats:      registry,
		AllocID:    "a1",
		Tasks:      []string{"sidecar", "web"},
		Logger:     logging.Discard(),
	})
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	s := newTestServer(newFakeController(), nil, nil)
	w := do(t, s, http.MethodGet, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/api/ws") {
		t.Fatalf("index page does not connect the websocket")
	}
}

func TestStatus_IncludesAllocationAndUsage(t *testing.T) {
	alloc := &nomad.Allocation{
		ID:           "a1",
		Name:         "job.web[0]",
		ClientStatus: "running",
		AllocatedResources: &nomad.AllocatedResources{Tasks: map[string]nomad.AllocatedTaskResources{
			"web": {Cpu: nomad.AllocatedCPU{CpuShares: 1000}, Memory: nomad.AllocatedMemory{MemoryMB: 128}},
		}},
	}
	usage := &nomad.AllocResourceUsage{
		ResourceUsage: nomad.ResourceUsage{
			CpuStats:    nomad.CpuStats{TotalTicks: 1500},
			MemoryStats: nomad.MemoryStats{RSS: 64 * 1024 * 1024},
		},
		Timestamp: time.Now().UnixNano(),
	}
	store := &state.Store{}
	store.Update(alloc, usage, nil)
	registry := stats.NewRegistry(0, 0)
	registry.Tracker(alloc).Append(usage)

	s := newTestServer(newFakeController(), store, registry)
	w := do(t, s, http.MethodGet, "/api/status")

	var got StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Task != "web" || got.Type != "stdout" || got.State != "idle" || got.Session != "s1" {
		t.Fatalf("status = %+v", got)
	}
	if got.Allocation == nil || got.Allocation.Name != "job.web[0]" {
		t.Fatalf("allocation = %+v", got.Allocation)
	}
	if got.Usage == nil || got.Usage.CPU != "1.5 GHz" || got.Usage.Memory != "64 MiB" || got.Usage.MemoryPercent != 0.5 {
		t.Fatalf("usage = %+v", got.Usage)
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Fatalf("api response is cacheable")
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/stream", "stream"},
		{"/api/head", "head"},
		{"/api/tail", "tail"},
		{"/api/stop", "stop"},
		{"/api/type/stderr", "switch web stderr"},
		{"/api/task/sidecar", "switch sidecar "},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ctrl := newFakeController()
			s := newTestServer(ctrl, nil, nil)
			w := do(t, s, http.MethodPost, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
			}
			if calls := ctrl.Calls(); len(calls) != 1 || calls[0] != tt.call {
				t.Fatalf("calls = %q, want %q", calls, tt.call)
			}
		})
	}
}

func TestHead_ReturnsOutput(t *testing.T) {
	s := newTestServer(newFakeController(), nil, nil)
	w := do(t, s, http.MethodPost, "/api/head")

	var got OutputResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.HTML != "hello" || got.Status.Pointer != "head" {
		t.Fatalf("output = %+v", got)
	}
}

func TestRejectsBadTarget(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(ctrl, nil, nil)

	if w := do(t, s, http.MethodPost, "/api/type/stdin"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad type status = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/task/db"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown task status = %d", w.Code)
	}
	if calls := ctrl.Calls(); len(calls) != 0 {
		t.Fatalf("controller called: %q", calls)
	}
}

func TestRecovery(t *testing.T) {
	s := newTestServer(newFakeController(), nil, nil)
	s.router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := do(t, s, http.MethodGet, "/panic")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "INTERNAL_ERROR") {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocket_PushesOutputOnUpdate(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(ctrl, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.Run(ctx)
	go func() { _ = s.Forward(ctx) }()

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ev := readEvent(t, conn)
	var first OutputResponse
	if err := json.Unmarshal(ev.Data, &first); err != nil || ev.Type != "output" || first.HTML != "hello" {
		t.Fatalf("initial event = %+v (%v)", ev, err)
	}

	ctrl.setHTML("world")
	ev = readEvent(t, conn)
	var next OutputResponse
	if err := json.Unmarshal(ev.Data, &next); err != nil || next.HTML != "world" {
		t.Fatalf("update event = %+v (%v)", ev, err)
	}
}

func TestHub_ClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(3 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	hub.BroadcastRaw("ping", map[string]int{"n": 1})
	if ev := readEvent(t, conn); ev.Type != "ping" {
		t.Fatalf("event = %+v", ev)
	}

	cancel()
	<-done
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after shutdown = %v, want normal close", err)
	}
}
