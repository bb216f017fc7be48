// Package streams wraps Redis Streams for the orchestrator's event bus:
// lifecycle events go out on one stream, step callbacks come in on another.
package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/payrail/orchestrator/pkg/tracing"
)

// Client publishes JSON messages to Redis Streams.
type Client struct {
	rdb *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Publish marshals msg and appends it to the stream. Returns the entry ID.
func (c *Client) Publish(ctx context.Context, stream string, msg interface{}) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	values := map[string]interface{}{
		"data": string(data),
	}
	tracing.InjectStream(ctx, values)

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Trim caps the stream at maxLen entries.
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	return c.rdb.XTrimMaxLen(ctx, stream, maxLen).Err()
}

// Len returns the current stream length.
func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	return c.rdb.XLen(ctx, stream).Result()
}

// Message is one consumed stream entry.
type Message struct {
	ID     string
	Stream string
	Data   []byte
}

// Handler processes one message. A non-nil error leaves the message
// pending for redelivery.
type Handler func(ctx context.Context, msg *Message) error

// ConsumerOptions tunes the consumer loop.
type ConsumerOptions struct {
	BatchSize    int
	BlockTime    time.Duration
	MaxRetries   int64
	ClaimMinIdle time.Duration
	// PendingCheckInterval controls how often stale pending entries are
	// reclaimed from dead consumers.
	PendingCheckInterval time.Duration
}

var DefaultConsumerOptions = ConsumerOptions{
	BatchSize:            100,
	BlockTime:            time.Second,
	MaxRetries:           10,
	ClaimMinIdle:         30 * time.Second,
	PendingCheckInterval: 30 * time.Second,
}

// Consumer reads a stream through a consumer group, reclaiming stale
// pending entries and moving poison messages to a dead-letter stream.
type Consumer struct {
	client   *Client
	stream   string
	group    string
	consumer string
	handler  Handler
	opts     ConsumerOptions

	onTick func()
	onErr  func(error)
}

func NewConsumer(client *Client, stream, group, consumer string, handler Handler, opts *ConsumerOptions) *Consumer {
	if opts == nil {
		opts = &DefaultConsumerOptions
	}
	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
		opts:     *opts,
	}
}

// Monitor registers loop-health callbacks invoked on every iteration and
// on every loop error.
func (c *Consumer) Monitor(onTick func(), onErr func(error)) {
	c.onTick = onTick
	c.onErr = onErr
}

// Start creates the consumer group if needed and consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	err := c.client.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group: %w", err)
	}

	if err := c.processPending(ctx); err != nil && ctx.Err() == nil {
		c.reportErr(err)
		log.Printf("process pending error: %v", err)
	}

	pendingTicker := time.NewTicker(c.opts.PendingCheckInterval)
	defer pendingTicker.Stop()

	for {
		c.tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pendingTicker.C:
			if err := c.processPending(ctx); err != nil && ctx.Err() == nil {
				c.reportErr(err)
				log.Printf("process pending error: %v", err)
			}
			continue
		default:
		}

		results, err := c.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    int64(c.opts.BatchSize),
			Block:    c.opts.BlockTime,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.reportErr(err)
			log.Printf("read stream error: %v", err)
			continue
		}

		for _, result := range results {
			for _, m := range result.Messages {
				c.processMessage(ctx, m)
			}
		}
	}
}

func (c *Consumer) tick() {
	if c.onTick != nil {
		c.onTick()
	}
}

func (c *Consumer) reportErr(err error) {
	if c.onErr != nil && err != nil {
		c.onErr(err)
	}
}

func (c *Consumer) processPending(ctx context.Context) error {
	for {
		pending, err := c.client.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  int64(c.opts.BatchSize),
		}).Result()
		if err != nil {
			return fmt.Errorf("xpending: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		var ids []string
		dlqIDs := make(map[string]int64)
		for _, entry := range pending {
			if entry.Idle >= c.opts.ClaimMinIdle {
				ids = append(ids, entry.ID)
				if c.opts.MaxRetries > 0 && entry.RetryCount > c.opts.MaxRetries {
					dlqIDs[entry.ID] = entry.RetryCount
				}
			}
		}
		if len(ids) == 0 {
			return nil
		}

		claimed, err := c.client.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.opts.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim: %w", err)
		}

		for _, m := range claimed {
			if retryCount, toDLQ := dlqIDs[m.ID]; toDLQ {
				if err := c.sendToDLQ(ctx, m, fmt.Sprintf("max retries exceeded: %d", retryCount)); err != nil {
					c.reportErr(err)
					log.Printf("send dlq error: %v", err)
					continue
				}
				c.client.rdb.XAck(ctx, c.stream, c.group, m.ID)
				continue
			}
			c.processMessage(ctx, m)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, m redis.XMessage) {
	data, ok := m.Values["data"].(string)
	if !ok {
		// Malformed entry, nothing to retry.
		c.client.rdb.XAck(ctx, c.stream, c.group, m.ID)
		return
	}

	msg := &Message{ID: m.ID, Stream: c.stream, Data: []byte(data)}
	if err := c.handler(tracing.ExtractStream(ctx, m.Values), msg); err != nil {
		c.reportErr(err)
		log.Printf("process message %s error: %v", m.ID, err)
		// Not acked; the entry stays pending and is retried via XCLAIM.
		return
	}
	c.client.rdb.XAck(ctx, c.stream, c.group, m.ID)
}

func (c *Consumer) sendToDLQ(ctx context.Context, m redis.XMessage, reason string) error {
	_, err := c.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream + ":dlq",
		Values: map[string]interface{}{
			"stream":   c.stream,
			"msgId":    m.ID,
			"reason":   reason,
			"data":     m.Values["data"],
			"tsMs":     time.Now().UnixMilli(),
			"group":    c.group,
			"consumer": c.consumer,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	return nil
}
