// Package web serves a local browser view of one task log. The page renders
// the controller's HTML output and a websocket pushes fresh output after
// every controller change.
package web

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/five82/alloclog/internal/state"
	"github.com/five82/alloclog/internal/stats"
	"github.com/five82/alloclog/internal/tasklog"
)

//go:embed index.html
var indexHTML []byte

const shutdownTimeout = 5 * time.Second

// LogController is the part of *tasklog.Controller the web view drives.
type LogController interface {
	StartStreaming(ctx context.Context)
	GotoHead(ctx context.Context)
	GotoTail(ctx context.Context)
	Stop()
	Switch(ctx context.Context, p tasklog.Params)
	Status() tasklog.Status
	Output() string
	Updates() <-chan struct{}
}

var _ LogController = (*tasklog.Controller)(nil)

// Options configure a Server.
type Options struct {
	Controller LogController
	Store      *state.Store    // optional
	Stats      *stats.Registry // optional
	AllocID    string
	Tasks      []string
	Logger     *log.Entry
}

// Server is the web view of one controller.
type Server struct {
	opts   Options
	hub    *Hub
	router *gin.Engine
	log    *log.Entry

	// ctx outlives requests so a stream started by one keeps running.
	ctx context.Context
}

// New builds the router. The server does not listen until Run.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	s := &Server{opts: opts, log: opts.Logger, ctx: context.Background()}
	s.hub = NewHub(s.log, s.outputEvent)
	s.router = s.newRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.log))
	r.Use(requestLogger(s.log))
	r.Use(errorHandler())

	r.GET("/", s.index)

	api := r.Group("/api")
	api.Use(noCache())
	{
		api.GET("/status", s.status)
		api.GET("/output", s.output)
		api.POST("/stream", s.stream)
		api.POST("/head", s.head)
		api.POST("/tail", s.tail)
		api.POST("/stop", s.stop)
		api.POST("/type/:type", s.setType)
		api.POST("/task/:task", s.setTask)
		api.GET("/ws", func(c *gin.Context) {
			s.hub.HandleWebSocket(c.Writer, c.Request)
		})
	}
	return r
}

// Run serves on addr, starts streaming and pushes updates until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	s.ctx = ctx

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.Forward(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "web server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("web server shutdown")
		}
		return nil
	})

	s.opts.Controller.StartStreaming(ctx)
	return g.Wait()
}

// Forward broadcasts the controller's output after each update until ctx
// ends or the controller is closed.
func (s *Server) Forward(ctx context.Context) error {
	updates := s.opts.Controller.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			s.hub.BroadcastRaw("output", s.outputResponse())
		}
	}
}

func (s *Server) outputEvent() (Event, bool) {
	ev, err := newEvent("output", s.outputResponse())
	if err != nil {
		s.log.WithError(err).Warn("marshal output")
		return Event{}, false
	}
	return ev, true
}
