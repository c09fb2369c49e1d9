package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/derat/smartychat/internal/metrics"
)

// Client is the slice of the transport the engine needs: deliver one
// chat-type stanza to a bare JID.
type Client interface {
	Send(to, body string) error
}

// Roster accepts presence subscription requests.
type Roster interface {
	AcceptSubscription(jid string) error
}

// Batcher coalesces outbound lines per recipient and paces flushes so the
// relay never exceeds one send burst per interval. XMPP servers throttle or
// disconnect aggressive senders, so all traffic goes through here.
type Batcher struct {
	client   Client
	limiter  *rate.Limiter
	separate bool // one stanza per line instead of newline-joined
	logger   zerolog.Logger
	met      *metrics.Registry

	mu     sync.Mutex
	cond   *sync.Cond
	queued map[string][]string // recipient JID -> pending lines, FIFO
	busy   bool                // a flush is sending outside the mutex
}

// BatcherOptions configures a Batcher.
type BatcherOptions struct {
	Client Client
	// Interval is the minimum spacing between flushes. Zero or negative
	// disables pacing.
	Interval         time.Duration
	SeparateMessages bool
	Logger           zerolog.Logger
	Metrics          *metrics.Registry
}

// NewBatcher creates a stopped Batcher. Call Start to launch the worker.
func NewBatcher(o BatcherOptions) *Batcher {
	b := &Batcher{
		client:   o.Client,
		limiter:  rate.NewLimiter(rate.Every(o.Interval), 1),
		separate: o.SeparateMessages,
		logger:   o.Logger,
		met:      o.Metrics,
		queued:   make(map[string][]string),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the background flush worker. Call once.
func (b *Batcher) Start() {
	go b.run()
}

// Enqueue appends a line to the recipient's pending queue. It never blocks
// on the network.
func (b *Batcher) Enqueue(jid, text string) {
	b.mu.Lock()
	b.queued[jid] = append(b.queued[jid], text)
	if b.met != nil {
		b.met.MessagesRelayed.Inc()
		b.met.BatchQueueDepth.Set(float64(len(b.queued)))
	}
	b.cond.Signal()
	b.mu.Unlock()
}

// WaitUntilDrained blocks until no line is queued and no flush is in
// flight. Used by tests to observe a quiescent batcher.
func (b *Batcher) WaitUntilDrained() {
	b.mu.Lock()
	for len(b.queued) > 0 || b.busy {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

func (b *Batcher) run() {
	for {
		// Predicate re-checked under the lock after every wake.
		b.mu.Lock()
		for len(b.queued) == 0 {
			b.cond.Wait()
		}
		b.mu.Unlock()

		// Pace against the send-rate budget before touching the queue so
		// lines enqueued during the wait ride along in this flush.
		if err := b.limiter.Wait(context.Background()); err != nil {
			return
		}

		b.mu.Lock()
		batch := b.queued
		b.queued = make(map[string][]string)
		b.busy = true
		if b.met != nil {
			b.met.BatchQueueDepth.Set(0)
		}
		b.mu.Unlock()

		b.flush(batch)

		b.mu.Lock()
		b.busy = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// flush delivers a detached batch. Send failures are logged and dropped;
// the transport is responsible for reconnection.
func (b *Batcher) flush(batch map[string][]string) {
	for jid, lines := range batch {
		if len(lines) == 0 {
			continue
		}
		if b.separate {
			for _, line := range lines {
				b.send(jid, line)
			}
		} else {
			b.send(jid, strings.Join(lines, "\n"))
		}
	}
	if b.met != nil {
		b.met.BatchFlushes.Inc()
	}
}

func (b *Batcher) send(jid, body string) {
	if err := b.client.Send(jid, body); err != nil {
		b.logger.Error().Err(err).Str("to", jid).Msg("Failed to send message")
		if b.met != nil {
			b.met.SendErrors.Inc()
		}
	}
}
