package activity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Dispatcher struct {
	log          zerolog.Logger
	subscribers  []Subscriber
	retryCount   int
	retryBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(log zerolog.Logger, subs []Subscriber) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:          log.With().Str("component", "activity").Logger(),
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
}

var _ Publisher = (*Dispatcher)(nil)

// Publish fans event out to every subscriber on its own goroutine.
func (d *Dispatcher) Publish(event Event) {
	for _, sub := range d.subscribers {
		s := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dispatchOne(d.ctx, s, event)
		}()
	}
}

// Flush waits for in-flight deliveries.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// Close stops pending retries and waits for deliveries to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub Subscriber, event Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.log.Warn().
			Err(err).
			Str("subscriber", sub.Name()).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Int("attempt", attempt).
			Msg("subscriber failed")
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
