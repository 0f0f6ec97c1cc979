// Package cache keeps durable room records close to the room registry so
// reloading an evicted room does not always hit the SQL store.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// RoomCache stores room records by room id.
type RoomCache interface {
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	Set(ctx context.Context, room *domain.Room, ttl time.Duration) error
	Invalidate(ctx context.Context, roomID string) error
}
