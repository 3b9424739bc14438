package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Volatile aggregates (message lists, chat lists, group snapshots) expire
// on their own; the direct-chat identity is cached without expiry and
// relies solely on explicit invalidation.
const defaultVolatileTTL = 60 * time.Second

// Coordinator serves conversation aggregates cache-aside: reads hit the
// cache first and recompute from the record store on miss; writes must call
// the Invalidate methods before acknowledging or broadcasting.
//
// Failure model: a broken cache degrades reads to the record store. Write
// invalidation errors are returned to the caller because an un-invalidated
// identity key has no TTL to bound its staleness.
type Coordinator struct {
	log   *slog.Logger
	store Store
	cache Cache

	flight      singleflight.Group
	volatileTTL time.Duration

	// Per-key invalidation generations. A read that computed its snapshot
	// before an invalidation must not write that snapshot back afterwards;
	// the generation tells the write-back whether the key moved under it.
	mu   sync.Mutex
	gens map[string]uint64
}

// NewCoordinator wires the coordinator over a record store and a cache.
func NewCoordinator(log *slog.Logger, store Store, cache Cache) *Coordinator {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Coordinator{
		log:         log,
		store:       store,
		cache:       cache,
		volatileTTL: defaultVolatileTTL,
		gens:        make(map[string]uint64),
	}
}

// Store exposes the underlying record store for write paths.
func (c *Coordinator) Store() Store { return c.store }

// DirectChat returns the chat identity aggregate for the unordered pair,
// creating the chat when absent. The cached entry has no TTL. Creating the
// chat mutates both participants' chat lists, so their list keys are
// invalidated before the result is returned.
func (c *Coordinator) DirectChat(ctx context.Context, userA, userB string) (DirectChat, error) {
	dc, err := readAside(ctx, c, "direct_chat", keyDirectChat(userA, userB), 0,
		func(ctx context.Context) (DirectChat, error) {
			return c.store.FindOrCreateDirectChat(ctx, userA, userB)
		})
	if err != nil {
		return DirectChat{}, err
	}

	if dc.Created {
		keys := []string{keyChatList(dc.Chat.UserLo), keyChatList(dc.Chat.UserHi)}
		c.bumpGenerations(keys...)
		if err := c.cache.Del(ctx, keys...); err != nil {
			cacheErrors.WithLabelValues("del").Inc()
			return DirectChat{}, err
		}
	}
	return dc, nil
}

// Messages returns all messages for a chat, ordered ascending.
func (c *Coordinator) Messages(ctx context.Context, chatID string) ([]Message, error) {
	return readAside(ctx, c, "messages", keyMessages(chatID), c.volatileTTL,
		func(ctx context.Context) ([]Message, error) {
			return c.store.ListMessages(ctx, chatID)
		})
}

// ChatsForUser returns the user's chat list with each chat's latest message.
func (c *Coordinator) ChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error) {
	return readAside(ctx, c, "chat_list", keyChatList(userID), c.volatileTTL,
		func(ctx context.Context) ([]ChatSummary, error) {
			return c.store.ListChatsForUser(ctx, userID)
		})
}

// Group returns the group snapshot aggregate.
func (c *Coordinator) Group(ctx context.Context, groupID string) (GroupSnapshot, error) {
	return readAside(ctx, c, "group", keyGroup(groupID), c.volatileTTL,
		func(ctx context.Context) (GroupSnapshot, error) {
			return c.store.GetGroup(ctx, groupID)
		})
}

// InvalidateDirectMessage removes every key whose aggregate embeds a direct
// chat's message collection: the message list, the chat identity (which
// carries the history), and both participants' chat lists.
func (c *Coordinator) InvalidateDirectMessage(ctx context.Context, chatID, senderID, receiverID string) error {
	keys := []string{
		keyMessages(chatID),
		keyDirectChat(senderID, receiverID),
		keyChatList(senderID),
		keyChatList(receiverID),
	}
	c.bumpGenerations(keys...)
	if err := c.cache.Del(ctx, keys...); err != nil {
		cacheErrors.WithLabelValues("del").Inc()
		return err
	}
	return nil
}

// InvalidateGroup removes the group snapshot key.
func (c *Coordinator) InvalidateGroup(ctx context.Context, groupID string) error {
	c.bumpGenerations(keyGroup(groupID))
	if err := c.cache.Del(ctx, keyGroup(groupID)); err != nil {
		cacheErrors.WithLabelValues("del").Inc()
		return err
	}
	return nil
}

func (c *Coordinator) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// bumpGenerations must be called before the corresponding cache.Del so an
// in-flight write-back observes the bump no matter how the two interleave.
func (c *Coordinator) bumpGenerations(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		c.gens[k]++
	}
	c.mu.Unlock()
}

// readAside is the shared read contract: cache hit -> return; miss ->
// compute once per key (singleflight), write back, return. Cache errors
// degrade to the record store.
//
// The write-back is invalidation-aware: a snapshot computed before a
// concurrent invalidation is stale by then, and re-populating the key with
// it would pin the pre-write state (the identity key has no TTL to age it
// out). The generation is checked on both sides of the Set, and a Set that
// lost the race is deleted again.
func readAside[T any](ctx context.Context, c *Coordinator, aggregate, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var out T
		if uerr := json.Unmarshal(raw, &out); uerr == nil {
			cacheHits.WithLabelValues(aggregate).Inc()
			return out, nil
		}
		// Undecodable entry: treat as miss and overwrite below.
		c.log.Warn("cache.entry.corrupt", "key", key)
	case errors.Is(err, ErrCacheMiss):
		// fall through to compute
	default:
		cacheErrors.WithLabelValues("get").Inc()
		c.log.Warn("cache.get.fail", "key", key, "err", err)
	}

	cacheMisses.WithLabelValues(aggregate).Inc()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		gen := c.generation(key)

		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		if raw, merr := json.Marshal(out); merr == nil && c.generation(key) == gen {
			if serr := c.cache.Set(ctx, key, raw, ttl); serr != nil {
				cacheErrors.WithLabelValues("set").Inc()
				c.log.Warn("cache.set.fail", "key", key, "err", serr)
			} else if c.generation(key) != gen {
				// Invalidated between the check and the Set.
				if derr := c.cache.Del(ctx, key); derr != nil {
					cacheErrors.WithLabelValues("del").Inc()
					c.log.Warn("cache.writeback.undo.fail", "key", key, "err", derr)
				}
			}
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
