// Package redis is a thin wrapper over go-redis exposing the
// write-and-publish idiom the rest of this module's telemetry is built on:
// every state change lands in a hash field and fires a pub/sub notification
// in one pipelined round trip.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis connection with the hash-plus-publish helpers this
// module's telemetry sinks are built on.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New dials addr and verifies it with a PING before returning.
func New(addr string, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &Client{
		client: client,
		ctx:    ctx,
	}, nil
}

// WriteString writes a string value to a hash field.
func (c *Client) WriteString(key, field, value string) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// WriteAndPublishString writes a string value to a hash field and publishes
// "field:value" on the channel named after key, in a single pipeline.
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// WriteInt writes an integer value to a hash field.
func (c *Client) WriteInt(key, field string, value int) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// WriteAndPublishInt writes an integer value to a hash field and publishes
// "field:value" on the channel named after key, in a single pipeline.
func (c *Client) WriteAndPublishInt(key, field string, value int) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%d", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
