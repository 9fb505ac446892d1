// Package outbound serializes delivery of gateway replies to channels.
package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

const (
	defaultQueueSize = 256
	maxRetries       = 3
	baseBackoff      = 250 * time.Millisecond
)

// perChannelRate caps outbound messages per second per channel type, matching
// the platforms' published limits.
var perChannelRate = map[string]float64{
	"telegram": 20,
	"discord":  1,
	"slack":    1,
	"whatsapp": 10,
	"webchat":  50,
}

// DeliverFunc performs one delivery attempt.
type DeliverFunc func(ctx context.Context, msg bus.OutboundMessage) error

// ChannelTypeFunc resolves a channel id to its platform type for pacing.
type ChannelTypeFunc func(channelID string) string

// Queue is a FIFO with a single delivery worker. Enqueue order is delivery
// order, which guarantees per-chat ordering. Failed deliveries are retried
// with exponential backoff and dropped after exhaustion.
type Queue struct {
	deliver     DeliverFunc
	channelType ChannelTypeFunc
	items       chan bus.OutboundMessage
	limiters    sync.Map // channel type → *rate.Limiter
	done        chan struct{}
}

// NewQueue creates a queue. channelType may be nil to disable pacing.
func NewQueue(deliver DeliverFunc, channelType ChannelTypeFunc) *Queue {
	return &Queue{
		deliver:     deliver,
		channelType: channelType,
		items:       make(chan bus.OutboundMessage, defaultQueueSize),
		done:        make(chan struct{}),
	}
}

// Start runs the delivery worker until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q.items:
				q.deliverWithRetry(ctx, msg)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (q *Queue) Wait() { <-q.done }

// Enqueue adds one message. When the queue is full the message is dropped
// with a log instead of blocking the router.
func (q *Queue) Enqueue(msg bus.OutboundMessage) {
	select {
	case q.items <- msg:
	default:
		log.Error().
			Str("channel", msg.ChannelID).
			Str("chat_id", msg.ChatID).
			Msg("outbound queue full, dropping message")
	}
}

// Len reports the number of queued messages.
func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) deliverWithRetry(ctx context.Context, msg bus.OutboundMessage) {
	if lim := q.limiterFor(msg.ChannelID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if err = q.deliver(ctx, msg); err == nil {
			return
		}
		log.Warn().
			Str("channel", msg.ChannelID).
			Str("chat_id", msg.ChatID).
			Int("attempt", attempt+1).
			Err(err).
			Msg("outbound delivery failed")
	}

	log.Error().
		Str("channel", msg.ChannelID).
		Str("chat_id", msg.ChatID).
		Err(err).
		Msg("outbound delivery exhausted retries, dropping message")
}

func (q *Queue) limiterFor(channelID string) *rate.Limiter {
	if q.channelType == nil {
		return nil
	}
	chType := q.channelType(channelID)
	perSec, ok := perChannelRate[chType]
	if !ok {
		return nil
	}
	lim, _ := q.limiters.LoadOrStore(chType, rate.NewLimiter(rate.Limit(perSec), int(perSec)+1))
	return lim.(*rate.Limiter)
}
