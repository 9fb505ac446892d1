package channels

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	defaultCacheTTL  = 30 * time.Minute
	defaultCacheSize = 10_000
	sweepInterval    = 5 * time.Minute
)

// CachedMessage locates a previously sent outbound message.
type CachedMessage struct {
	ChannelID string
	ChatID    string
	SentAt    time.Time
}

// MessageCache is a bounded TTL map of outbound messageId → origin, so a
// later edit/delete/react by message id alone can resolve its chat. On
// overflow the insertion-order-oldest entry is evicted.
type MessageCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest
	now     func() time.Time
}

type cacheItem struct {
	messageID string
	value     CachedMessage
}

// NewMessageCache creates a cache; non-positive arguments use defaults.
func NewMessageCache(ttl time.Duration, maxSize int) *MessageCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &MessageCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Put records a sent message. Re-putting an id refreshes its position.
func (c *MessageCache) Put(messageID, channelID, chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[messageID]; ok {
		c.order.Remove(el)
		delete(c.entries, messageID)
	}
	for len(c.entries) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(cacheItem).messageID)
	}
	item := cacheItem{
		messageID: messageID,
		value:     CachedMessage{ChannelID: channelID, ChatID: chatID, SentAt: c.now()},
	}
	c.entries[messageID] = c.order.PushBack(item)
}

// Get resolves a message id, pruning it when expired.
func (c *MessageCache) Get(messageID string) (CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[messageID]
	if !ok {
		return CachedMessage{}, false
	}
	item := el.Value.(cacheItem)
	if c.now().Sub(item.value.SentAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, messageID)
		return CachedMessage{}, false
	}
	return item.value, true
}

// Len returns the number of cached entries.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper prunes expired entries periodically until ctx is cancelled.
func (c *MessageCache) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *MessageCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		item := el.Value.(cacheItem)
		if item.value.SentAt.After(cutoff) {
			break // insertion order: everything after is newer
		}
		c.order.Remove(el)
		delete(c.entries, item.messageID)
		el = next
	}
}
