package natsbridge

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/events"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
)

// subjectPrefix roots every republished event.
const subjectPrefix = "cidadao.events."

// Bridge consumes the internal event bus and republishes each event on
// a NATS subject derived from its type.
type Bridge struct {
	client *Client
	bus    *events.Bus

	mu      sync.Mutex
	started bool
	eventCh <-chan events.Event
	done    chan struct{}

	log zerolog.Logger
}

// NewBridge creates a bridge over a connected client.
func NewBridge(client *Client, bus *events.Bus) *Bridge {
	return &Bridge{
		client: client,
		bus:    bus,
		log:    logging.Component("nats_bridge"),
	}
}

// Start subscribes to the bus and begins republishing. Idempotent.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.eventCh = b.bus.Subscribe()
	b.done = make(chan struct{})
	go b.loop()
	b.log.Info().Msg("nats bridge started")
}

// Stop unsubscribes and waits for the loop to drain. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	eventCh := b.eventCh
	done := b.done
	b.mu.Unlock()

	b.bus.Unsubscribe(eventCh)
	<-done
}

func (b *Bridge) loop() {
	defer close(b.done)
	for event := range b.eventCh {
		subject := subjectPrefix + string(event.Type)
		if err := b.client.PublishJSON(subject, event); err != nil {
			b.log.Warn().Err(err).Str("subject", subject).Msg("failed to republish event")
		}
	}
}
