package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventChannel returns the pub/sub channel a tenant's Event Bus events are
// relayed on, keyed by API key so subscribers on any process instance see
// publishQr/publishStatus events regardless of which instance owns the live
// upstream socket.
func EventChannel(apiKey string) string {
	return fmt.Sprintf("wa-events:%s", apiKey)
}
