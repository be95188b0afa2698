// Package redis stores the offline mailbox in Redis lists so queued messages
// survive a process restart.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/core"
	"github.com/vovakirdan/parcelchat-server/internal/store"
)

const (
	defaultPrefix  = "parcelchat:mailbox:"
	defaultTimeout = 2 * time.Second
)

// Options configures the mailbox.
type Options struct {
	// Prefix is prepended to the user id to build the list key.
	Prefix string
	// TTL expires a user's list after the last enqueue. Zero keeps it forever.
	TTL time.Duration
	// Timeout bounds each Redis round trip.
	Timeout time.Duration
}

// Mailbox is a core.Mailbox backed by one Redis list per user.
// When Redis is unreachable it keeps messages in memory instead of failing.
type Mailbox struct {
	client   *goredis.Client
	opts     Options
	fallback *core.MemoryMailbox
	log      *zerolog.Logger
}

var _ core.Mailbox = (*Mailbox)(nil)

// payload is the JSON form of a queued message.
type payload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// Dial parses a redis:// URL and verifies the server with a ping.
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// New wraps an existing client.
func New(client *goredis.Client, opts Options, logger *zerolog.Logger) *Mailbox {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Mailbox{
		client:   client,
		opts:     opts,
		fallback: core.NewMemoryMailbox(),
		log:      logger,
	}
}

func (m *Mailbox) key(userID string) string {
	return m.opts.Prefix + userID
}

// Enqueue appends msg to the user's list.
func (m *Mailbox) Enqueue(userID string, msg store.Message) {
	data, err := json.Marshal(payload(msg))
	if err != nil {
		m.log.Error().Err(err).Str("user_id", userID).Msg("encode mailbox entry")
		m.fallback.Enqueue(userID, msg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()

	key := m.key(userID)
	_, err = m.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if m.opts.TTL > 0 {
			pipe.Expire(ctx, key, m.opts.TTL)
		}
		return nil
	})
	if err != nil {
		m.log.Warn().Err(err).
			Str("user_id", userID).
			Str("message_id", msg.ID).
			Msg("redis enqueue failed, keeping message in memory")
		m.fallback.Enqueue(userID, msg)
	}
}

// Drain reads and deletes the user's list in one transaction, then appends
// anything held in memory while Redis was failing.
func (m *Mailbox) Drain(userID string) []store.Message {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()

	key := m.key(userID)
	var lrange *goredis.StringSliceCmd
	_, err := m.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})

	var out []store.Message
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("redis drain failed")
	} else {
		for _, raw := range lrange.Val() {
			var p payload
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				m.log.Error().Err(err).Str("user_id", userID).Msg("dropping corrupt mailbox entry")
				continue
			}
			out = append(out, store.Message(p))
		}
	}

	return append(out, m.fallback.Drain(userID)...)
}

// Pending returns the number of queued messages for the user.
func (m *Mailbox) Pending(userID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()

	n, err := m.client.LLen(ctx, m.key(userID)).Result()
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("redis llen failed")
		n = 0
	}
	return int(n) + m.fallback.Pending(userID)
}
