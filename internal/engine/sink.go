package engine

import (
	"context"

	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/pkg/logger"
)

// Sink receives every engine event in order.
type Sink interface {
	Name() string
	Consume(ctx context.Context, ev *Event) error
}

// Fanout delivers events to each sink in turn until ctx is done or events is
// closed. A failing sink is logged and skipped for that event only.
func Fanout(ctx context.Context, events <-chan *Event, log *logger.Logger, sinks ...Sink) {
	if log == nil {
		log = logger.Nop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Consume(ctx, ev); err != nil {
					metrics.IncSinkError(s.Name())
					log.WithError(err).Warnf("event sink failed", map[string]interface{}{
						"sink": s.Name(),
						"type": ev.Type.String(),
						"seq":  ev.Seq,
					})
				}
			}
		}
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev *Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Consume(ctx context.Context, ev *Event) error { return f.Fn(ctx, ev) }
