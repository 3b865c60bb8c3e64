// Package store holds the timer service's Redis-backed presence tracking.
package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisu "github.com/Ftotnem/GO-TIMING/shared/redis"
)

// PresenceStore tracks which entities are connected, using key TTLs as a heartbeat.
// An entity whose key expires is treated as disconnected by the presence sweep.
type PresenceStore struct {
	client    *redis.ClusterClient
	onlineTTL time.Duration
}

// NewPresenceStore creates a PresenceStore over a connected cluster client.
func NewPresenceStore(client *redis.ClusterClient, onlineTTL time.Duration) *PresenceStore {
	return &PresenceStore{client: client, onlineTTL: onlineTTL}
}

func presenceKey(entity uuid.UUID) string {
	return fmt.Sprintf(redisu.OnlineKeyPrefix, entity.String())
}

// SetOnline marks entity as connected since the given instant.
func (ps *PresenceStore) SetOnline(ctx context.Context, entity uuid.UUID, since time.Time) error {
	if err := ps.client.Set(ctx, presenceKey(entity), since.Unix(), ps.onlineTTL).Err(); err != nil {
		return fmt.Errorf("failed to set entity %s online in Redis: %w", entity, err)
	}
	return nil
}

// Refresh extends the TTL of entity's presence key. A missing key is re-created.
func (ps *PresenceStore) Refresh(ctx context.Context, entity uuid.UUID) error {
	ok, err := ps.client.Expire(ctx, presenceKey(entity), ps.onlineTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh presence TTL for entity %s: %w", entity, err)
	}
	if !ok {
		return ps.SetOnline(ctx, entity, time.Now())
	}
	return nil
}

// Remove deletes entity's presence key.
func (ps *PresenceStore) Remove(ctx context.Context, entity uuid.UUID) error {
	if err := ps.client.Del(ctx, presenceKey(entity)).Err(); err != nil {
		return fmt.Errorf("failed to remove presence key for entity %s: %w", entity, err)
	}
	return nil
}

// OnlineSet scans every master node and returns the set of entities with a live presence key.
func (ps *PresenceStore) OnlineSet(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	online := make(map[uuid.UUID]struct{})
	var mu sync.Mutex

	err := ps.client.ForEachMaster(ctx, func(ctx context.Context, client *redis.Client) error {
		if client == nil {
			return nil
		}
		iter := client.Scan(ctx, 0, fmt.Sprintf(redisu.OnlineKeyPrefix, "*"), 0).Iterator()
		for iter.Next(ctx) {
			id, ok := parsePresenceKey(iter.Val())
			if !ok {
				log.Printf("WARNING: Could not parse entity id from presence key %s. Skipping.", iter.Val())
				continue
			}
			mu.Lock()
			online[id] = struct{}{}
			mu.Unlock()
		}
		return iter.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan presence keys across Redis masters: %w", err)
	}
	return online, nil
}

// parsePresenceKey extracts the entity id from "timer:online:{uuid}:".
func parsePresenceKey(key string) (uuid.UUID, bool) {
	start := strings.Index(key, "{")
	end := strings.Index(key, "}")
	if start == -1 || end <= start {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(key[start+1 : end])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
