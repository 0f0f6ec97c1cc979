package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
)

// RedisRoomCache stores each room as a JSON string under "<prefix>:<id>".
type RedisRoomCache struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomCache(cfg config.RedisConfig, prefix string) (*RedisRoomCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisRoomCache{client: client, prefix: prefix}, nil
}

func (c *RedisRoomCache) key(roomID string) string {
	return c.prefix + ":" + roomID
}

func (c *RedisRoomCache) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	data, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get room %s: %w", roomID, err)
	}

	room := new(domain.Room)
	if err := json.Unmarshal(data, room); err != nil {
		// a corrupt entry is treated as absent and replaced on the next Set
		return nil, ErrCacheMiss
	}
	return room, nil
}

func (c *RedisRoomCache) Set(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.ID, err)
	}
	if err := c.client.Set(ctx, c.key(room.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set room %s: %w", room.ID, err)
	}
	return nil
}

func (c *RedisRoomCache) Invalidate(ctx context.Context, roomID string) error {
	if err := c.client.Unlink(ctx, c.key(roomID)).Err(); err != nil {
		return fmt.Errorf("redis unlink room %s: %w", roomID, err)
	}
	return nil
}

func (c *RedisRoomCache) Close() error {
	return c.client.Close()
}
