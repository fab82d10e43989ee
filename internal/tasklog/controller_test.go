package tasklog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/five82/alloclog/internal/logsource"
	"github.com/five82/alloclog/internal/logtail"
)

const (
	clientURL = "http://10.0.0.9:4646/v1/client/fs/logs/a1"
	serverURL = "http://127.0.0.1:4646/v1/client/fs/logs/a1"
)

func frame(offset int64, data string) string {
	return fmt.Sprintf(`{"Offset":%d,"Data":"%s"}`, offset, base64.StdEncoding.EncodeToString([]byte(data)))
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// pipeResponse returns an open streaming body that ends when ctx does.
func pipeResponse(ctx context.Context) (*http.Response, *io.PipeWriter) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		_ = pw.CloseWithError(ctx.Err())
	}()
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: pr}, pw
}

func hang(ctx context.Context) (*http.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeAgent records every URL it is asked for.
type fakeAgent struct {
	mu     sync.Mutex
	urls   []string
	handle func(ctx context.Context, u *url.URL) (*http.Response, error)
}

func (f *fakeAgent) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	f.mu.Lock()
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return f.handle(ctx, u)
}

func (f *fakeAgent) calls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.urls {
		if strings.HasPrefix(u, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAgent) query(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 {
		i += len(f.urls)
	}
	u, _ := url.Parse(f.urls[i])
	return u.Query()
}

func newController(t *testing.T, agent *fakeAgent, opts Options) *Controller {
	t.Helper()
	opts.Fetch = agent.fetch
	c := New(opts)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, c *Controller, what string, cond func(Status, string) bool) Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		st := c.Status()
		text := c.Text()
		if cond(st, text) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state=%v transport=%v text=%q err=%v", what, st.State, st.Transport, text, st.Err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParamsValues(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"defaults to stdout", Params{}, "type=stdout"},
		{"task and type", Params{Task: "web", Type: "stderr"}, "task=web&type=stderr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.Values().Encode(); got != tt.want {
				t.Fatalf("Values = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateAndTransportNames(t *testing.T) {
	names := map[State]string{
		StateIdle:         "idle",
		StateFetchingHead: "fetching head",
		StateFetchingTail: "fetching tail",
		StateStreaming:    "streaming",
		StateNoConnection: "no connection",
		StateLogsDisabled: "logs disabled",
	}
	for s, want := range names {
		if s.String() != want {
			t.Fatalf("State(%d) = %q, want %q", s, s.String(), want)
		}
	}
	if TransportClient.String() != "client" || TransportServer.String() != "server" {
		t.Fatalf("unexpected transport names")
	}
}

func TestGotoHeadThenTail_ShowsOnlyTail(t *testing.T) {
	agent := &fakeAgent{handle: func(_ context.Context, u *url.URL) (*http.Response, error) {
		if u.Query().Get("origin") == "start" {
			return respond(200, frame(4, "HEAD")), nil
		}
		return respond(200, frame(900, "TAIL")), nil
	}}
	c := newController(t, agent, Options{ClientURL: clientURL, ServerURL: serverURL, Params: Params{Task: "web"}})

	c.GotoHead(context.Background())
	st := c.Status()
	if c.Text() != "HEAD" || st.Pointer != logtail.PointerHead || st.State != StateIdle {
		t.Fatalf("after head: text=%q pointer=%v state=%v", c.Text(), st.Pointer, st.State)
	}
	q := agent.query(0)
	if q.Get("origin") != "start" || q.Get("offset") != "0" || q.Get("task") != "web" || q.Get("type") != "stdout" {
		t.Fatalf("head query = %v", q)
	}

	c.GotoTail(context.Background())
	st = c.Status()
	if c.Text() != "TAIL" || st.Pointer != logtail.PointerTail {
		t.Fatalf("after tail: text=%q pointer=%v", c.Text(), st.Pointer)
	}
	if out := c.Output(); !strings.Contains(out, "TAIL") || strings.Contains(out, "HEAD") {
		t.Fatalf("Output = %q, want only tail", out)
	}
	if st.Offset != 900 {
		t.Fatalf("offset = %d, want 900", st.Offset)
	}
	q = agent.query(1)
	if q.Get("origin") != "end" || q.Get("offset") != "50000" {
		t.Fatalf("tail query = %v", q)
	}
	if agent.calls(serverURL) != 0 {
		t.Fatalf("server contacted although client answered")
	}
}

func TestGotoHead_TruncatesWithNotice(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return respond(200, frame(20, strings.Repeat("x", 20))), nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, MaxLength: 10})

	c.GotoHead(context.Background())
	want := strings.Repeat("x", 10) + logtail.TruncationNotice
	if c.Text() != want {
		t.Fatalf("Text = %q, want %q", c.Text(), want)
	}
}

// plainAgent serves text only to requests that ask for plain bodies.
func plainAgent(text string, offset int64) *fakeAgent {
	return &fakeAgent{handle: func(_ context.Context, u *url.URL) (*http.Response, error) {
		if u.Query().Get("plain") == "true" {
			return respond(200, text), nil
		}
		return respond(200, frame(offset, text)), nil
	}}
}

func TestPlain_TakesBodyVerbatim(t *testing.T) {
	tests := []struct {
		name string
		load func(*Controller)
	}{
		{"tail", func(c *Controller) { c.GotoTail(context.Background()) }},
		{"head", func(c *Controller) { c.GotoHead(context.Background()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := plainAgent("raw text", 8)
			c := newController(t, agent, Options{ServerURL: serverURL, Plain: true})

			tt.load(c)
			if c.Text() != "raw text" {
				t.Fatalf("Text = %q, want raw text", c.Text())
			}
			if q := agent.query(0); q.Get("plain") != "true" {
				t.Fatalf("query = %v, want plain=true", q)
			}
		})
	}
}

func TestPlainTail_ThenStream_DoesNotRepeat(t *testing.T) {
	agent := plainAgent("hello\n", 6)
	c := newController(t, agent, Options{ServerURL: serverURL, Plain: true})

	c.GotoTail(context.Background())
	if c.Text() != "hello\n" {
		t.Fatalf("tail Text = %q", c.Text())
	}

	c.StartStreaming(context.Background())
	waitFor(t, c, "stream end", func(st Status, text string) bool {
		return st.State == StateIdle && agent.calls("") == 2
	})
	if c.Text() != "hello\n" {
		t.Fatalf("Text = %q, want a single copy of hello", c.Text())
	}
	q := agent.query(-1)
	if q.Get("follow") != "true" || q.Get("plain") != "" {
		t.Fatalf("stream query = %v, want framed follow", q)
	}
}

func TestClientTimeout_StreamsThroughServer(t *testing.T) {
	agent := &fakeAgent{}
	agent.handle = func(ctx context.Context, u *url.URL) (*http.Response, error) {
		if u.Host == "10.0.0.9:4646" {
			return hang(ctx)
		}
		if u.Query().Get("follow") != "true" {
			return respond(200, frame(6, "tail")), nil
		}
		resp, pw := pipeResponse(ctx)
		go func() { _, _ = io.WriteString(pw, frame(5, "hello")) }()
		return resp, nil
	}
	c := newController(t, agent, Options{
		ClientURL:     clientURL,
		ServerURL:     serverURL,
		ClientTimeout: 20 * time.Millisecond,
	})

	c.StartStreaming(context.Background())
	st := waitFor(t, c, "server stream", func(st Status, text string) bool {
		return st.State == StateStreaming && st.Transport == TransportServer && text == "hello"
	})
	if !st.Streaming {
		t.Fatalf("Streaming = false while server stream open")
	}
	if agent.calls(clientURL) != 1 || agent.calls(serverURL) != 1 {
		t.Fatalf("calls client=%d server=%d, want 1 each", agent.calls(clientURL), agent.calls(serverURL))
	}

	// The server stays selected for later operations.
	c.Stop()
	c.GotoTail(context.Background())
	if agent.calls(clientURL) != 1 {
		t.Fatalf("client retried after failover")
	}
}

func TestClientError_RetriesHeadOnServer(t *testing.T) {
	agent := &fakeAgent{handle: func(_ context.Context, u *url.URL) (*http.Response, error) {
		if u.Host == "10.0.0.9:4646" {
			return nil, errors.New("connection refused")
		}
		return respond(200, frame(3, "abc")), nil
	}}
	c := newController(t, agent, Options{ClientURL: clientURL, ServerURL: serverURL})

	c.GotoHead(context.Background())
	st := c.Status()
	if c.Text() != "abc" || st.Transport != TransportServer || st.State != StateIdle {
		t.Fatalf("text=%q transport=%v state=%v", c.Text(), st.Transport, st.State)
	}
}

func TestServerFailure_IsNoConnection(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return nil, errors.New("no route to host")
	}}
	c := newController(t, agent, Options{ClientURL: clientURL, ServerURL: serverURL})

	c.GotoTail(context.Background())
	st := c.Status()
	if st.State != StateNoConnection || st.Err == nil {
		t.Fatalf("state=%v err=%v, want no connection", st.State, st.Err)
	}
	if agent.calls(clientURL) != 1 || agent.calls(serverURL) != 1 {
		t.Fatalf("calls client=%d server=%d, want 1 each", agent.calls(clientURL), agent.calls(serverURL))
	}
}

func TestServerTimeout_IsNoConnection(t *testing.T) {
	agent := &fakeAgent{handle: func(ctx context.Context, _ *url.URL) (*http.Response, error) {
		return hang(ctx)
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, ServerTimeout: 20 * time.Millisecond})

	c.StartStreaming(context.Background())
	st := waitFor(t, c, "no connection", func(st Status, _ string) bool {
		return st.State == StateNoConnection
	})
	if !errors.Is(st.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", st.Err)
	}
}

func TestNotFound_LogsDisabledIsSticky(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return respond(http.StatusNotFound, "not found"), nil
	}}
	c := newController(t, agent, Options{ClientURL: clientURL, ServerURL: serverURL})

	c.GotoTail(context.Background())
	st := c.Status()
	if st.State != StateLogsDisabled || !st.LogsDisabled {
		t.Fatalf("state=%v disabled=%v, want logs disabled", st.State, st.LogsDisabled)
	}
	if agent.calls("") != 1 {
		t.Fatalf("calls = %d, want 1 (no failover on 404)", agent.calls(""))
	}

	c.Stop()
	st = c.Status()
	if st.State != StateIdle || !st.LogsDisabled {
		t.Fatalf("after Stop: state=%v disabled=%v", st.State, st.LogsDisabled)
	}

	c.GotoHead(context.Background())
	c.StartStreaming(context.Background())
	if st := c.Status(); st.State != StateLogsDisabled {
		t.Fatalf("state = %v, want logs disabled", st.State)
	}
	if agent.calls("") != 1 {
		t.Fatalf("calls = %d after disabled, want no new requests", agent.calls(""))
	}

	c.SetParams(Params{Type: "stderr"})
	if st := c.Status(); st.LogsDisabled || st.State != StateIdle {
		t.Fatalf("new target kept disabled flag: %+v", st)
	}
}

func TestStopDuringFetch_DiscardsLateResponse(t *testing.T) {
	release := make(chan struct{})
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		<-release
		return respond(200, frame(4, "LATE")), nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, ServerTimeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GotoTail(context.Background())
	}()
	waitFor(t, c, "fetching tail", func(st Status, _ string) bool { return st.State == StateFetchingTail })

	c.Stop()
	close(release)
	<-done

	if c.Text() != "" {
		t.Fatalf("Text = %q, want late response discarded", c.Text())
	}
	if st := c.Status(); st.State != StateIdle {
		t.Fatalf("state = %v, want idle", st.State)
	}
}

func TestStopDuringStream_IgnoresLaterChunks(t *testing.T) {
	writers := make(chan *io.PipeWriter, 1)
	agent := &fakeAgent{handle: func(ctx context.Context, _ *url.URL) (*http.Response, error) {
		resp, pw := pipeResponse(ctx)
		writers <- pw
		return resp, nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL})

	c.StartStreaming(context.Background())
	pw := <-writers
	go func() { _, _ = io.WriteString(pw, frame(1, "a")) }()
	waitFor(t, c, "first chunk", func(_ Status, text string) bool { return text == "a" })

	c.Stop()
	c.Stop()
	go func() { _, _ = io.WriteString(pw, frame(2, "b")) }()
	time.Sleep(30 * time.Millisecond)

	st := c.Status()
	if c.Text() != "a" || st.State != StateIdle || st.Streaming {
		t.Fatalf("text=%q state=%v streaming=%v after Stop", c.Text(), st.State, st.Streaming)
	}
}

func TestStreaming_TeesChunksAndResumesOffset(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return respond(200, frame(1, "x")+frame(2, "y")), nil
	}}
	tee := &lockedBuffer{}
	c := newController(t, agent, Options{ServerURL: serverURL, Tee: tee})

	c.StartStreaming(context.Background())
	waitFor(t, c, "stream end", func(st Status, text string) bool {
		return st.State == StateIdle && text == "xy"
	})
	if tee.String() != "xy" {
		t.Fatalf("tee = %q, want xy", tee.String())
	}
	select {
	case <-c.Updates():
	case <-time.After(time.Second):
		t.Fatalf("no update signalled")
	}

	q := agent.query(0)
	if q.Get("follow") != "true" || q.Get("origin") != "end" || q.Get("offset") != "50000" {
		t.Fatalf("first stream query = %v", q)
	}

	c.StartStreaming(context.Background())
	waitFor(t, c, "second stream", func(st Status, text string) bool {
		return st.State == StateIdle && agent.calls("") == 2
	})
	q = agent.query(-1)
	if q.Get("origin") != "start" || q.Get("offset") != "2" {
		t.Fatalf("resume query = %v, want origin=start offset=2", q)
	}
}

func TestPolling_AppendsWithoutDuplicates(t *testing.T) {
	agent := &fakeAgent{handle: func(_ context.Context, u *url.URL) (*http.Response, error) {
		q := u.Query()
		switch {
		case q.Get("origin") == "end":
			return respond(200, frame(1, "a")), nil
		case q.Get("offset") == "1":
			return respond(200, frame(2, "b")), nil
		default:
			return respond(200, ""), nil
		}
	}}
	c := newController(t, agent, Options{
		ServerURL:    serverURL,
		Kind:         logsource.Polling,
		PollInterval: 2 * time.Millisecond,
	})

	c.StartStreaming(context.Background())
	waitFor(t, c, "polled text", func(_ Status, text string) bool { return text == "ab" })
	waitFor(t, c, "more polls", func(Status, string) bool { return agent.calls("") >= 4 })
	if c.Text() != "ab" {
		t.Fatalf("Text = %q, want ab", c.Text())
	}
	if st := c.Status(); st.Kind != logsource.Polling || st.State != StateStreaming {
		t.Fatalf("kind=%v state=%v", st.Kind, st.State)
	}
}

func TestSetParams_ClearsBuffer(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return respond(200, frame(4, "TAIL")), nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, Params: Params{Task: "web"}})

	c.GotoTail(context.Background())
	c.SetParams(Params{Task: "web", Type: "stderr"})
	if c.Text() != "" {
		t.Fatalf("Text = %q after SetParams, want empty", c.Text())
	}
	if st := c.Status(); st.Offset != 0 || st.Params.Type != "stderr" {
		t.Fatalf("status = %+v", st)
	}
	c.GotoTail(context.Background())
	if q := agent.query(-1); q.Get("type") != "stderr" {
		t.Fatalf("query = %v, want type=stderr", q)
	}
}

func TestSwitch_ReloadsTailWhenIdle(t *testing.T) {
	agent := &fakeAgent{handle: func(_ context.Context, u *url.URL) (*http.Response, error) {
		return respond(200, frame(4, u.Query().Get("type"))), nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, Params: Params{Task: "web"}})

	c.Switch(context.Background(), Params{Task: "web", Type: "stderr"})
	if c.Text() != "stderr" {
		t.Fatalf("Text = %q, want stderr", c.Text())
	}
	if q := agent.query(-1); q.Get("origin") != "end" {
		t.Fatalf("query = %v, want a tail fetch", q)
	}
}

func TestSwitch_ResumesStreaming(t *testing.T) {
	agent := &fakeAgent{handle: func(ctx context.Context, u *url.URL) (*http.Response, error) {
		resp, pw := pipeResponse(ctx)
		typ := u.Query().Get("type")
		go func() { _, _ = io.WriteString(pw, frame(3, typ)) }()
		return resp, nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL, Params: Params{Task: "web"}})

	c.StartStreaming(context.Background())
	waitFor(t, c, "stdout chunk", func(_ Status, text string) bool { return text == "stdout" })

	c.Switch(context.Background(), Params{Task: "web", Type: "stderr"})
	st := waitFor(t, c, "stderr chunk", func(_ Status, text string) bool { return text == "stderr" })
	if st.State != StateStreaming {
		t.Fatalf("state = %v, want streaming", st.State)
	}
	if q := agent.query(-1); q.Get("follow") != "true" || q.Get("origin") != "end" {
		t.Fatalf("query = %v, want a fresh stream", q)
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{"idle", Status{State: StateIdle}, ""},
		{"no connection", Status{State: StateNoConnection}, "cannot reach agent"},
		{"disabled", Status{State: StateLogsDisabled}, "log collection disabled"},
		{"fetching", Status{State: StateFetchingHead}, "fetching head..."},
		{"client stream", Status{State: StateStreaming}, "streaming"},
		{"server stream", Status{State: StateStreaming, Transport: TransportServer}, "streaming via server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.Message(); got != tt.want {
				t.Fatalf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextCancel_EndsStream(t *testing.T) {
	agent := &fakeAgent{handle: func(ctx context.Context, _ *url.URL) (*http.Response, error) {
		resp, _ := pipeResponse(ctx)
		return resp, nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL})

	ctx, cancel := context.WithCancel(context.Background())
	c.StartStreaming(ctx)
	waitFor(t, c, "streaming", func(st Status, _ string) bool { return st.Streaming })
	cancel()
	waitFor(t, c, "idle", func(st Status, _ string) bool { return st.State == StateIdle })
}

func TestClose_ClosesUpdates(t *testing.T) {
	agent := &fakeAgent{handle: func(context.Context, *url.URL) (*http.Response, error) {
		return respond(200, frame(1, "a")), nil
	}}
	c := newController(t, agent, Options{ServerURL: serverURL})
	c.Close()
	c.Close()

	for range c.Updates() {
	}
	c.GotoTail(context.Background())
	c.StartStreaming(context.Background())
	if agent.calls("") != 0 {
		t.Fatalf("closed controller fetched %d times", agent.calls(""))
	}
}

func TestRaceFetch(t *testing.T) {
	t.Run("times out before headers", func(t *testing.T) {
		_, err := raceFetch(context.Background(), func(ctx context.Context, _ string) (*http.Response, error) {
			return hang(ctx)
		}, "x", 10*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})

	t.Run("deadline ends at headers", func(t *testing.T) {
		var reqCtx context.Context
		resp, err := raceFetch(context.Background(), func(ctx context.Context, _ string) (*http.Response, error) {
			reqCtx = ctx
			return respond(200, "ok"), nil
		}, "x", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("raceFetch returned error: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		if reqCtx.Err() != nil {
			t.Fatalf("request cancelled while body unread")
		}
		_ = resp.Body.Close()
		if reqCtx.Err() == nil {
			t.Fatalf("closing body did not release the request")
		}
	})

	t.Run("caller cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := raceFetch(ctx, func(ctx context.Context, _ string) (*http.Response, error) {
			return hang(ctx)
		}, "x", time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}
