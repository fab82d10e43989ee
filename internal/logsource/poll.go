package logsource

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/five82/alloclog/internal/frames"
)

// pollSource repeats bounded fetches. The next fetch is only scheduled after
// the previous one has finished, so requests never overlap.
type pollSource struct {
	runner
}

func (p *pollSource) Kind() Kind { return Polling }

func (p *pollSource) run(ctx context.Context) {
	for {
		text, err := p.fetchOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.cfg.Logger.WithError(err).Warn("log poll failed")
			p.emit(ctx, Event{Err: err})
			return
		}
		if text != "" {
			if !p.emit(ctx, Event{Text: text, Offset: p.offset, HasOffset: true}) {
				return
			}
		}

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *pollSource) fetchOnce(ctx context.Context) (string, error) {
	target := BuildURL(p.cfg.URL, p.cfg.Params, p.offsetParams(url.Values{}))
	resp, err := p.cfg.Fetch(ctx, target)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := CheckStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read log poll")
	}

	msg, err := frames.Decode(body)
	if err != nil {
		p.cfg.Logger.WithError(err).Warn("dropping corrupt log frames")
	}
	if msg.Frames > 0 {
		p.offset = msg.Offset
	}
	return msg.Text, nil
}
