package tasklog

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/five82/alloclog/internal/frames"
	"github.com/five82/alloclog/internal/logsource"
	"github.com/five82/alloclog/internal/logtail"
)

const (
	DefaultClientTimeout = time.Second
	DefaultServerTimeout = 5 * time.Second
)

// ErrTimeout marks a fetch that produced no response headers in time.
var ErrTimeout = errors.New("log fetch timed out")

// State is the controller's current activity.
type State int

const (
	StateIdle State = iota
	StateFetchingHead
	StateFetchingTail
	StateStreaming
	StateNoConnection
	StateLogsDisabled
)

func (s State) String() string {
	switch s {
	case StateFetchingHead:
		return "fetching head"
	case StateFetchingTail:
		return "fetching tail"
	case StateStreaming:
		return "streaming"
	case StateNoConnection:
		return "no connection"
	case StateLogsDisabled:
		return "logs disabled"
	default:
		return "idle"
	}
}

// Transport is the path fetches currently take.
type Transport int

const (
	TransportClient Transport = iota
	TransportServer
)

func (t Transport) String() string {
	if t == TransportServer {
		return "server"
	}
	return "client"
}

// Params select which log of the allocation is read.
type Params struct {
	Task string
	Type string
}

// Values returns the query parameters for p. Type defaults to stdout.
func (p Params) Values() url.Values {
	v := url.Values{}
	if p.Task != "" {
		v.Set("task", p.Task)
	}
	typ := p.Type
	if typ == "" {
		typ = "stdout"
	}
	v.Set("type", typ)
	return v
}

// Options configure a Controller.
type Options struct {
	// ClientURL reaches the node agent directly. Empty means always use the
	// server.
	ClientURL string
	ServerURL string
	Params    Params
	Fetch     logsource.FetchFunc

	ClientTimeout time.Duration
	ServerTimeout time.Duration
	PollInterval  time.Duration
	MaxLength     int
	// Plain takes bounded fetch bodies verbatim instead of decoding frames.
	Plain bool
	Kind  logsource.Kind
	// Tee, when set, receives every chunk written to the buffer.
	Tee    io.Writer
	Logger *log.Entry
}

// Status is a snapshot of the controller.
type Status struct {
	State        State
	Transport    Transport
	Pointer      logtail.Pointer
	Kind         logsource.Kind
	Params       Params
	Streaming    bool
	LogsDisabled bool
	Session      string
	Offset       int64
	Err          error
	Updated      time.Time
}

// Controller owns one task log view. It picks the transport, runs the
// current source and is the only writer into its buffer. All methods are
// safe for concurrent use.
type Controller struct {
	opts    Options
	buf     *logtail.Buffer
	log     *log.Entry
	session string
	updates chan struct{}

	mu        sync.Mutex
	gen       uint64
	state     State
	transport Transport
	params    Params
	disabled  bool
	lastErr   error
	offset    int64
	source    logsource.Source
	cancel    context.CancelFunc
	updated   time.Time
	closed    bool
}

// New builds an idle controller.
func New(opts Options) *Controller {
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = DefaultClientTimeout
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = DefaultServerTimeout
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = logtail.DefaultMaxLength
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	session := uuid.NewString()
	c := &Controller{
		opts:    opts,
		buf:     logtail.NewBuffer(opts.MaxLength),
		session: session,
		updates: make(chan struct{}, 1),
		params:  opts.Params,
		updated: time.Now(),
	}
	c.log = opts.Logger.WithFields(log.Fields{
		"component": "tasklog",
		"session":   session,
	})
	if opts.ClientURL == "" {
		c.transport = TransportServer
	}
	return c
}

// StartStreaming replaces any current activity with a live source that
// appends to the tail.
func (c *Controller) StartStreaming(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	// Without a resume offset the stream reopens at the end of the log and
	// replays what a plain tail fetch already loaded.
	if c.offset == 0 {
		c.buf.SetTail("")
	}
	c.buf.SwitchTo(logtail.PointerTail)
	if c.disabled {
		c.setStateLocked(StateLogsDisabled, logsource.ErrLogsDisabled)
		return
	}
	c.startSourceLocked(ctx)
}

// GotoHead loads the beginning of the log and shows it.
func (c *Controller) GotoHead(ctx context.Context) {
	c.fetchBounded(ctx, logtail.PointerHead)
}

// GotoTail loads the end of the log and shows it.
func (c *Controller) GotoTail(ctx context.Context) {
	c.fetchBounded(ctx, logtail.PointerTail)
}

// Stop cancels whatever is running. The logs-disabled flag is kept.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	if c.closed {
		return
	}
	c.setStateLocked(StateIdle, nil)
}

// SetParams switches to another task or log type. The buffer and resume
// offset are cleared.
func (c *Controller) SetParams(p Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || p == c.params {
		return
	}
	c.stopLocked()
	c.params = p
	c.resetTargetLocked()
}

// SetURLs points the controller at another allocation.
func (c *Controller) SetURLs(clientURL, serverURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (clientURL == c.opts.ClientURL && serverURL == c.opts.ServerURL) {
		return
	}
	c.stopLocked()
	c.opts.ClientURL = clientURL
	c.opts.ServerURL = serverURL
	c.transport = TransportClient
	if clientURL == "" {
		c.transport = TransportServer
	}
	c.resetTargetLocked()
}

// Switch changes params and reloads the view: a running stream resumes on
// the new target, anything else loads its tail.
func (c *Controller) Switch(ctx context.Context, p Params) {
	streaming := c.Status().State == StateStreaming
	c.SetParams(p)
	if streaming {
		c.StartStreaming(ctx)
		return
	}
	c.GotoTail(ctx)
}

func (c *Controller) resetTargetLocked() {
	c.offset = 0
	c.disabled = false
	c.buf.Reset()
	c.setStateLocked(StateIdle, nil)
	c.log.WithFields(log.Fields{"task": c.params.Task, "type": c.params.Values().Get("type")}).Debug("log target changed")
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:        c.state,
		Transport:    c.transport,
		Pointer:      c.buf.Pointer(),
		Kind:         c.opts.Kind,
		Params:       c.params,
		LogsDisabled: c.disabled,
		Session:      c.session,
		Offset:       c.offset,
		Err:          c.lastErr,
		Updated:      c.updated,
	}
	st.Streaming = c.source != nil && c.source.IsRunning()
	return st
}

// Message is a one-line description of st for status bars. It is empty
// when there is nothing to report.
func (st Status) Message() string {
	switch st.State {
	case StateNoConnection:
		return "cannot reach agent"
	case StateLogsDisabled:
		return "log collection disabled"
	case StateFetchingHead, StateFetchingTail:
		return st.State.String() + "..."
	case StateStreaming:
		if st.Transport == TransportServer {
			return "streaming via server"
		}
		return "streaming"
	}
	return ""
}

// Output returns the current view as HTML markup.
func (c *Controller) Output() string { return c.buf.Output() }

// Text returns the current view as raw text.
func (c *Controller) Text() string { return c.buf.Text() }

// Updates signals after any buffer or state change. Signals coalesce; a
// receiver should re-read Status and Text.
func (c *Controller) Updates() <-chan struct{} { return c.updates }

// Close stops the controller for good and closes Updates.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	c.closed = true
	close(c.updates)
}

func (c *Controller) stopLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.source != nil {
		c.source.Stop()
		c.source = nil
	}
}

func (c *Controller) setStateLocked(s State, err error) {
	if s != c.state {
		c.log.WithFields(log.Fields{
			"from":      c.state.String(),
			"to":        s.String(),
			"transport": c.transport.String(),
		}).Debug("log state changed")
	}
	c.state = s
	c.lastErr = err
	c.updated = time.Now()
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Controller) urlLocked() string {
	if c.transport == TransportServer {
		return c.opts.ServerURL
	}
	return c.opts.ClientURL
}

func (c *Controller) timeout(t Transport) time.Duration {
	if t == TransportServer {
		return c.opts.ServerTimeout
	}
	return c.opts.ClientTimeout
}

// fetcher races every attempt on transport t against that transport's
// timeout.
func (c *Controller) fetcher(t Transport) logsource.FetchFunc {
	timeout := c.timeout(t)
	return func(ctx context.Context, rawURL string) (*http.Response, error) {
		return raceFetch(ctx, c.opts.Fetch, rawURL, timeout)
	}
}

// failLocked classifies err and reports whether the operation should be
// retried over the server.
func (c *Controller) failLocked(err error) bool {
	switch {
	case errors.Is(err, logsource.ErrLogsDisabled):
		c.disabled = true
		c.log.Info("log collection is disabled for this allocation")
		c.setStateLocked(StateLogsDisabled, err)
		return false
	case c.transport == TransportClient && c.opts.ServerURL != "":
		c.log.WithError(err).Warn("client log fetch failed, falling back to server")
		c.transport = TransportServer
		c.lastErr = err
		return true
	default:
		c.log.WithError(err).Error("log fetch failed")
		c.setStateLocked(StateNoConnection, err)
		return false
	}
}

func (c *Controller) startSourceLocked(parent context.Context) {
	gen := c.gen
	ctx, cancel := context.WithCancel(parent)
	events := make(chan logsource.Event)
	src := logsource.New(c.opts.Kind, logsource.Config{
		URL:        c.urlLocked(),
		Params:     c.params.Values(),
		Fetch:      c.fetcher(c.transport),
		Offset:     c.offset,
		TailLength: c.opts.MaxLength,
		Interval:   c.opts.PollInterval,
		Gen:        gen,
		Events:     events,
		Logger:     c.log,
	})
	c.cancel = cancel
	c.source = src
	c.setStateLocked(StateStreaming, nil)
	src.Start(ctx)
	go c.pump(parent, ctx, gen, events)
}

func (c *Controller) pump(parent, ctx context.Context, gen uint64, events <-chan logsource.Event) {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.gen == gen && !c.closed {
				// The caller's context ended the session.
				c.stopLocked()
				c.setStateLocked(StateIdle, nil)
			}
			c.mu.Unlock()
			return
		case ev := <-events:
			if !c.handleEvent(parent, ev) {
				return
			}
		}
	}
}

func (c *Controller) handleEvent(parent context.Context, ev logsource.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Gen != c.gen || c.closed {
		return false
	}
	switch {
	case ev.Err != nil:
		retry := c.failLocked(ev.Err)
		c.stopLocked()
		if retry {
			c.startSourceLocked(parent)
		}
		return false
	case ev.Done:
		c.stopLocked()
		c.setStateLocked(StateIdle, nil)
		return false
	}

	if ev.HasOffset {
		c.offset = ev.Offset
	}
	c.buf.Append(ev.Text)
	c.teeLocked(ev.Text)
	c.updated = time.Now()
	c.notifyLocked()
	return true
}

func (c *Controller) teeLocked(text string) {
	if c.opts.Tee == nil || text == "" {
		return
	}
	if _, err := io.WriteString(c.opts.Tee, text); err != nil {
		c.log.WithError(err).Debug("tee write failed")
	}
}

func (c *Controller) fetchBounded(ctx context.Context, pointer logtail.Pointer) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	if c.disabled {
		c.buf.SwitchTo(pointer)
		c.setStateLocked(StateLogsDisabled, logsource.ErrLogsDisabled)
		c.mu.Unlock()
		return
	}
	gen := c.gen
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	state := StateFetchingTail
	if pointer == logtail.PointerHead {
		state = StateFetchingHead
	}
	c.setStateLocked(state, nil)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		transport := c.transport
		target := logsource.BuildURL(c.urlLocked(), c.params.Values(), c.boundedParams(pointer))
		c.mu.Unlock()

		msg, err := c.fetchMessage(fctx, transport, target)

		c.mu.Lock()
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			return
		}
		if err == nil {
			c.applyLocked(pointer, msg)
			c.cancel = nil
			c.setStateLocked(StateIdle, nil)
			c.mu.Unlock()
			return
		}
		if fctx.Err() != nil {
			c.cancel = nil
			c.setStateLocked(StateIdle, nil)
			c.mu.Unlock()
			return
		}
		retry := c.failLocked(err)
		if !retry {
			c.cancel = nil
		}
		c.mu.Unlock()
		if !retry {
			return
		}
	}
}

func (c *Controller) boundedParams(pointer logtail.Pointer) url.Values {
	q := url.Values{"origin": {"end"}, "offset": {strconv.Itoa(c.opts.MaxLength)}}
	if pointer == logtail.PointerHead {
		q = url.Values{"origin": {"start"}, "offset": {"0"}}
	}
	if c.opts.Plain {
		q.Set("plain", "true")
	}
	return q
}

func (c *Controller) applyLocked(pointer logtail.Pointer, msg frames.Message) {
	if pointer == logtail.PointerHead {
		if c.buf.SetHead(msg.Text) {
			c.log.WithField("max_length", c.buf.MaxLength()).Debug("log head truncated")
		}
	} else {
		c.buf.SetTail(msg.Text)
		if msg.Frames > 0 {
			c.offset = msg.Offset
		}
	}
	c.buf.SwitchTo(pointer)
	c.teeLocked(msg.Text)
}

func (c *Controller) fetchMessage(ctx context.Context, t Transport, target string) (frames.Message, error) {
	resp, err := raceFetch(ctx, c.opts.Fetch, target, c.timeout(t))
	if err != nil {
		return frames.Message{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := logsource.CheckStatus(resp); err != nil {
		return frames.Message{}, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return frames.Message{}, errors.Wrap(err, "read log body")
	}
	if c.opts.Plain {
		return frames.Message{Text: string(body)}, nil
	}
	msg, err := frames.Decode(body)
	if err != nil {
		c.log.WithError(err).Warn("dropping corrupt log frames")
	}
	return msg, nil
}

type fetchResult struct {
	resp *http.Response
	err  error
}

// raceFetch runs fetch until response headers arrive or timeout elapses,
// whichever comes first. The deadline no longer applies once the body is
// being read; closing the body releases the request.
func raceFetch(ctx context.Context, fetch logsource.FetchFunc, rawURL string, timeout time.Duration) (*http.Response, error) {
	if fetch == nil {
		return nil, errors.New("no fetch function configured")
	}
	reqCtx, cancel := context.WithCancel(ctx)
	results := make(chan fetchResult, 1)
	go func() {
		resp, err := fetch(reqCtx, rawURL)
		results <- fetchResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			cancel()
			return nil, res.err
		}
		if res.resp == nil {
			cancel()
			return nil, errors.New("fetch returned no response")
		}
		res.resp.Body = &cancelOnClose{ReadCloser: res.resp.Body, cancel: cancel}
		return res.resp, nil
	case <-timer.C:
		cancel()
		go discard(results)
		return nil, errors.Wrapf(ErrTimeout, "no response within %s", timeout)
	case <-ctx.Done():
		cancel()
		go discard(results)
		return nil, ctx.Err()
	}
}

// discard closes the body of a response that lost the race.
func discard(results <-chan fetchResult) {
	res := <-results
	if res.resp != nil && res.resp.Body != nil {
		_ = res.resp.Body.Close()
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
