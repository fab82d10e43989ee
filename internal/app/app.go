package app

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/five82/alloclog/internal/config"
	"github.com/five82/alloclog/internal/logging"
	"github.com/five82/alloclog/internal/logsource"
	"github.com/five82/alloclog/internal/nomad"
	"github.com/five82/alloclog/internal/prefs"
	"github.com/five82/alloclog/internal/state"
	"github.com/five82/alloclog/internal/stats"
	"github.com/five82/alloclog/internal/tasklog"
	"github.com/five82/alloclog/internal/ui"
	"github.com/five82/alloclog/internal/web"
)

// Options configure an alloclog session.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/alloclog/prefs.toml
	Alloc      string // full allocation ID or unique prefix
	Task       string // empty picks the first task
	Type       string // stdout or stderr; empty uses the saved preference
	Polling    bool
	Plain      bool
	Verbose    bool
	PollEvery  time.Duration // stats refresh; zero uses config
	Version    string
}

// Session holds everything one allocation view needs.
type Session struct {
	Config     config.Config
	Logging    *logging.Logging
	Client     *nomad.Client
	Allocation *nomad.Allocation
	Task       string
	Controller *tasklog.Controller
	Store      *state.Store
	Stats      *stats.Registry

	log *log.Entry
}

// Open resolves the allocation and builds its log controller. tee, when
// set, receives every log chunk.
func Open(ctx context.Context, opts Options, tee io.Writer) (*Session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	lg, err := logging.Setup(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Verbose: opts.Verbose})
	if err != nil {
		return nil, errors.Wrap(err, "setup logging")
	}
	logger := lg.Entry("app")

	ua := ""
	if opts.Version != "" {
		ua = "alloclog/" + opts.Version
	}
	client, err := nomad.NewClient(nomad.Options{
		Address:   cfg.Address,
		Token:     cfg.Token,
		Region:    cfg.Region,
		Namespace: cfg.Namespace,
		UserAgent: ua,
	})
	if err != nil {
		_ = lg.Close()
		return nil, errors.Wrap(err, "init agent client")
	}

	alloc, err := client.ResolveAllocation(ctx, opts.Alloc)
	if err != nil {
		_ = lg.Close()
		return nil, errors.Wrap(err, "resolve allocation")
	}
	task, err := chooseTask(alloc, opts.Task)
	if err != nil {
		_ = lg.Close()
		return nil, err
	}
	logger = logger.WithFields(log.Fields{"alloc": alloc.ShortID(), "task": task})

	clientURL := clientLogURL(ctx, client, alloc, logger)

	kind := logsource.Streaming
	if cfg.Polling || opts.Polling {
		kind = logsource.Polling
	}

	ctrl := tasklog.New(tasklog.Options{
		ClientURL:     clientURL,
		ServerURL:     nomad.ServerLogURL(alloc.ID),
		Params:        tasklog.Params{Task: task, Type: opts.Type},
		Fetch:         client.Fetch,
		ClientTimeout: cfg.ClientTimeout,
		ServerTimeout: cfg.ServerTimeout,
		PollInterval:  cfg.PollInterval,
		MaxLength:     cfg.MaxOutputLength,
		Plain:         opts.Plain,
		Kind:          kind,
		Tee:           tee,
		Logger:        lg.Entry("tasklog").WithFields(log.Fields{"alloc": alloc.ShortID(), "task": task}),
	})
	logger.WithFields(log.Fields{"client_url": clientURL, "kind": kind.String()}).Info("session opened")

	return &Session{
		Config:     cfg,
		Logging:    lg,
		Client:     client,
		Allocation: alloc,
		Task:       task,
		Controller: ctrl,
		Store:      &state.Store{},
		Stats:      stats.NewRegistry(stats.DefaultRegistrySize, stats.DefaultHistory),
		log:        logger,
	}, nil
}

// Close stops the controller and releases the log file.
func (s *Session) Close() {
	s.Controller.Close()
	if err := s.Logging.Close(); err != nil {
		s.log.WithError(err).Debug("close log file")
	}
}

// StartPoller begins refreshing the allocation record and stats.
func (s *Session) StartPoller(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.Config.StatsInterval
	}
	StartPoller(ctx, s.Store, s.Client, s.Stats, s.Allocation.ID, every, s.Logging.Entry("poller"))
}

// clientLogURL looks up the node running alloc. Any failure leaves the
// controller on the server path.
func clientLogURL(ctx context.Context, api nomad.API, alloc *nomad.Allocation, logger *log.Entry) string {
	if alloc.NodeID == "" {
		return ""
	}
	node, err := api.Node(ctx, alloc.NodeID)
	if err != nil {
		logger.WithError(err).Warn("node lookup failed, reading logs through the server")
		return ""
	}
	return nomad.ClientLogURL(node.HTTPAddr, alloc.ID)
}

func chooseTask(alloc *nomad.Allocation, want string) (string, error) {
	names := alloc.TaskNames()
	if want == "" {
		if len(names) == 0 {
			return "", errors.Errorf("allocation %s has no tasks", alloc.ShortID())
		}
		return names[0], nil
	}
	if !slices.Contains(names, want) {
		return "", errors.Errorf("task %q not found in allocation %s (tasks: %s)", want, alloc.ShortID(), strings.Join(names, ", "))
	}
	return want, nil
}

// Run boots the TUI until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	store := prefs.NewStore(opts.PrefsPath)
	if opts.Type == "" {
		opts.Type = store.Prefs().LogType
	}

	sess, err := Open(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.StartPoller(ctx, opts.PollEvery)

	err = ui.Run(ui.Options{
		Context:    ctx,
		Controller: sess.Controller,
		Store:      sess.Store,
		Stats:      sess.Stats,
		Allocation: *sess.Allocation,
		Prefs:      store,
		Ring:       sess.Logging.Ring,
		Logger:     sess.Logging.Entry("ui"),
	})
	if ferr := store.Flush(); ferr != nil {
		sess.log.WithError(ferr).Warn("save preferences")
	}
	return err
}

// LogsMode selects what Logs prints.
type LogsMode int

const (
	LogsTail LogsMode = iota
	LogsHead
	LogsFollow
)

// Logs writes the task log to out without a UI.
func Logs(ctx context.Context, opts Options, mode LogsMode, out io.Writer) error {
	if opts.Type == "" {
		opts.Type = "stdout"
	}
	sess, err := Open(ctx, opts, out)
	if err != nil {
		return err
	}
	defer sess.Close()

	c := sess.Controller
	switch mode {
	case LogsHead:
		c.GotoHead(ctx)
	case LogsFollow:
		c.StartStreaming(ctx)
		waitWhileStreaming(ctx, c)
	default:
		c.GotoTail(ctx)
	}
	return statusError(c.Status())
}

func waitWhileStreaming(ctx context.Context, c *tasklog.Controller) {
	for c.Status().State == tasklog.StateStreaming {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case _, ok := <-c.Updates():
			if !ok {
				return
			}
		}
	}
}

// statusError turns a terminal controller state into an error for
// non-interactive callers.
func statusError(st tasklog.Status) error {
	switch st.State {
	case tasklog.StateNoConnection, tasklog.StateLogsDisabled:
		if st.Err != nil {
			return errors.Wrap(st.Err, st.Message())
		}
		return errors.New(st.Message())
	}
	return nil
}

// Serve runs the local web view at addr until ctx ends.
func Serve(ctx context.Context, opts Options, addr string) error {
	if opts.Type == "" {
		opts.Type = "stdout"
	}
	sess, err := Open(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.StartPoller(ctx, opts.PollEvery)

	srv := web.New(web.Options{
		Controller: sess.Controller,
		Store:      sess.Store,
		Stats:      sess.Stats,
		AllocID:    sess.Allocation.ID,
		Tasks:      sess.Allocation.TaskNames(),
		Logger:     sess.Logging.Entry("web"),
	})
	sess.log.WithField("addr", addr).Info("serving web view")
	return srv.Run(ctx, addr)
}
