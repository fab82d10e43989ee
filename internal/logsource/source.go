// Package logsource produces task log chunks from the agent's log endpoint,
// either over one long-lived streaming request or by repeated bounded polls.
package logsource

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Kind selects the transport strategy of a Source.
type Kind int

const (
	Streaming Kind = iota
	Polling
)

func (k Kind) String() string {
	if k == Polling {
		return "polling"
	}
	return "streaming"
}

const (
	// DefaultPollInterval is the pause between polling fetches.
	DefaultPollInterval = time.Second

	// DefaultTailLength is how far back from the end a source starts when it
	// has no offset to resume from.
	DefaultTailLength = 50000
)

var (
	// ErrLogsDisabled is reported when the endpoint answers 404, which the
	// agent does when log collection is disabled for the allocation.
	ErrLogsDisabled = errors.New("log collection disabled")

	// ErrUnexpectedStatus is wrapped for any other non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// FetchFunc performs a GET for rawURL. Cancelling ctx aborts the request.
type FetchFunc func(ctx context.Context, rawURL string) (*http.Response, error)

// Event is sent by a Source to its owner.
type Event struct {
	Gen       uint64
	Text      string
	Offset    int64
	HasOffset bool
	Err       error
	Done      bool
}

// Config describes what a Source reads and where it reports.
type Config struct {
	URL        string
	Params     url.Values
	Fetch      FetchFunc
	Offset     int64 // resume position from a previous source; zero starts near the end
	TailLength int
	Interval   time.Duration
	Gen        uint64
	Events     chan<- Event
	Logger     *log.Entry
}

// Source is the shared contract of both strategies.
type Source interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	Kind() Kind
	Done() <-chan struct{}
}

// New returns a Source of the given kind. The source does nothing until Start.
func New(kind Kind, cfg Config) Source {
	if cfg.Logger == nil {
		cfg.Logger = log.NewEntry(log.StandardLogger())
	}
	cfg.Logger = cfg.Logger.WithField("source", kind.String())
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.TailLength <= 0 {
		cfg.TailLength = DefaultTailLength
	}
	if kind == Polling {
		p := &pollSource{}
		p.cfg = cfg
		p.offset = cfg.Offset
		p.loop = p.run
		return p
	}
	s := &streamSource{}
	s.cfg = cfg
	s.offset = cfg.Offset
	s.loop = s.run
	return s
}

// CheckStatus maps a log endpoint response status to an error.
func CheckStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrLogsDisabled
	case resp.StatusCode >= 400:
		return errors.Wrapf(ErrUnexpectedStatus, "log fetch returned status %d", resp.StatusCode)
	}
	return nil
}

// BuildURL appends params and extra to base. Keys in extra win.
func BuildURL(base string, params url.Values, extra url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	for k, v := range extra {
		q[k] = append([]string(nil), v...)
	}
	if len(q) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// runner holds the lifecycle shared by both strategies.
type runner struct {
	cfg    Config
	loop   func(ctx context.Context)
	offset int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func (r *runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.running = true
	r.done = done

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			if r.done == done {
				r.running = false
			}
			r.mu.Unlock()
			close(done)
		}()
		r.loop(ctx)
	}()
}

func (r *runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when the current run has exited. Before Start it returns a
// closed channel.
func (r *runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

func (r *runner) emit(ctx context.Context, ev Event) bool {
	ev.Gen = r.cfg.Gen
	select {
	case r.cfg.Events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// offsetParams resumes from the last frame offset, or starts TailLength bytes
// before the end when nothing has been read yet.
func (r *runner) offsetParams(extra url.Values) url.Values {
	if r.offset > 0 {
		extra.Set("origin", "start")
		extra.Set("offset", strconv.FormatInt(r.offset, 10))
		return extra
	}
	extra.Set("origin", "end")
	extra.Set("offset", strconv.Itoa(r.cfg.TailLength))
	return extra
}
