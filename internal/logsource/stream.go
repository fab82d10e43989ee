package logsource

import (
	"context"
	"io"
	"net/url"

	"github.com/pkg/errors"

	"github.com/five82/alloclog/internal/frames"
)

// streamSource follows the log over a single long-lived request.
type streamSource struct {
	runner
}

func (s *streamSource) Kind() Kind { return Streaming }

func (s *streamSource) run(ctx context.Context) {
	target := BuildURL(s.cfg.URL, s.cfg.Params, s.offsetParams(url.Values{"follow": {"true"}}))
	logger := s.cfg.Logger.WithField("offset", s.offset)
	logger.Debug("opening log stream")

	resp, err := s.cfg.Fetch(ctx, target)
	if err != nil {
		if ctx.Err() == nil {
			s.emit(ctx, Event{Err: err})
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if err := CheckStatus(resp); err != nil {
		s.emit(ctx, Event{Err: err})
		return
	}

	err = s.readFrames(ctx, resp.Body)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.WithError(err).Warn("log stream interrupted")
		s.emit(ctx, Event{Err: err})
		return
	}
	logger.Debug("log stream ended")
	s.emit(ctx, Event{Done: true})
}

func (s *streamSource) readFrames(ctx context.Context, body io.Reader) error {
	scanner := frames.NewScanner(body)
	for scanner.Scan() {
		f, err := frames.DecodeFrame(scanner.Bytes())
		if err != nil {
			s.cfg.Logger.WithError(err).Warn("dropping corrupt log frame")
			continue
		}
		if f.FileEvent != "" {
			s.cfg.Logger.WithField("event", f.FileEvent).Info("log file event")
		}
		if !f.HasData() {
			continue
		}
		s.offset = f.Offset
		if !s.emit(ctx, Event{Text: string(f.Data), Offset: f.Offset, HasOffset: true}) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read log stream")
	}
	return nil
}
