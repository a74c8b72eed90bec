package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"gameRoster/internal/model"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

// Broadcaster delivers a roster change to local observers.
type Broadcaster interface {
	Publish(ctx context.Context, ev model.RosterChanged) error
}

// Reader forwards roster changes received from the broker to the local hub.
type Reader struct {
	RMQ    Consumer
	local  Broadcaster
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq Consumer, local Broadcaster) *Reader {
	return &Reader{
		RMQ:   rmq,
		local: local,
		done:  make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("RabbitMQ Reader started")

	go func() {
		defer close(r.done)

		if err := r.RMQ.Consume(func(body []byte) error { return r.Handle(cctx, body) }); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("RabbitMQ Reader stopped by context")
	}()
}

// Handle decodes one broker message and hands it to local observers.
func (r *Reader) Handle(ctx context.Context, body []byte) error {
	var msg model.RosterChanged
	if err := json.Unmarshal(body, &msg); err != nil {
		zlog.Logger.Error().
			Err(err).
			Msgf("Failed to unmarshal message: %s", string(body))
		return err
	}

	zlog.Logger.Debug().
		Str("event_id", msg.EventID.String()).
		Int("changes", len(msg.Changes)).
		Msg("Received roster change from RabbitMQ")

	if err := r.local.Publish(ctx, msg); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("event_id", msg.EventID.String()).
			Msg("Failed to broadcast roster change")
		return err
	}
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
