// Package cache implements the two cache layers named in the service's
// cache contract: a process-local snapshot cache keyed per
// (project, environment) and a shared Redis-compatible cache keyed per
// flag and per environment bootstrap. Adapted from the sibling
// feature-flag-platform pack repo's edge-evaluator ConfigCache
// (in-memory map guarded by sync.RWMutex, Redis as the miss-fallback
// tier, hit/miss counters), re-expressed around this system's
// snapshot.Flag/snapshot.Bootstrap shapes instead of its bucketing
// config shape, and with the local tier refreshed by a background
// goroutine on a soft TTL instead of read-through population only.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devrimkaya/flagship/internal/snapshot"
)

// softTTL is how long a process-local snapshot is served before the
// background refresher re-fetches it. Unlike a hard TTL, a stale-but-
// present snapshot is always returned while the refresh is in flight.
const softTTL = 60 * time.Second

type entry struct {
	bootstrap snapshot.Bootstrap
	expiresAt time.Time
}

// Local is the process-local snapshot cache: one entry per (project,
// environment), refreshed in the background so readers never block on a
// Config Store round trip.
type Local struct {
	mu      sync.RWMutex
	entries map[string]entry

	hits   uint64
	misses uint64
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]entry)}
}

func localKey(projectKey, environmentKey string) string {
	return projectKey + ":" + environmentKey
}

// Get returns the cached bootstrap for (projectKey, environmentKey) and
// whether it's still within its soft TTL. A stale entry is still
// returned (ok=true) alongside fresh=false, so a caller can serve it
// immediately while a refresh happens elsewhere.
func (l *Local) Get(projectKey, environmentKey string) (b snapshot.Bootstrap, ok bool, fresh bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, found := l.entries[localKey(projectKey, environmentKey)]
	if !found {
		l.misses++
		return snapshot.Bootstrap{}, false, false
	}
	l.hits++
	return e.bootstrap, true, time.Now().Before(e.expiresAt)
}

// Set stores b for (projectKey, environmentKey) with a fresh soft TTL.
func (l *Local) Set(projectKey, environmentKey string, b snapshot.Bootstrap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[localKey(projectKey, environmentKey)] = entry{bootstrap: b, expiresAt: time.Now().Add(softTTL)}
}

// Invalidate drops the cached bootstrap for (projectKey, environmentKey),
// so the next Get is a miss until a Set repopulates it.
func (l *Local) Invalidate(projectKey, environmentKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, localKey(projectKey, environmentKey))
}

// Stats reports cumulative hit/miss counts for /healthz-style reporting.
func (l *Local) Stats() (hits, misses uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hits, l.misses
}

// Shared is the Redis-backed second tier: a safety net that survives
// process restarts and is shared across replicas. A nil *Shared (no
// CACHE_URL configured) is valid and every method becomes a no-op miss.
type Shared struct {
	client *redis.Client
}

func NewShared(client *redis.Client) *Shared {
	return &Shared{client: client}
}

func flagKey(projectKey, flagKey, environmentKey string) string {
	return fmt.Sprintf("flag:%s:%s:%s", projectKey, flagKey, environmentKey)
}

func bootstrapKey(projectKey, environmentKey string) string {
	return fmt.Sprintf("flags:%s:%s", projectKey, environmentKey)
}

// GetFlag reads a single cached flag snapshot. ok=false on miss, Redis
// unavailability, or a nil Shared.
func (s *Shared) GetFlag(ctx context.Context, projectKey, flagKey_, environmentKey string) (snapshot.Flag, bool) {
	if s == nil || s.client == nil {
		return snapshot.Flag{}, false
	}
	data, err := s.client.Get(ctx, flagKey(projectKey, flagKey_, environmentKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[cache] redis get flag failed: %v", err)
		}
		return snapshot.Flag{}, false
	}
	var f snapshot.Flag
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("[cache] redis flag unmarshal failed: %v", err)
		return snapshot.Flag{}, false
	}
	return f, true
}

// SetFlag caches a single flag snapshot with a 60s TTL.
func (s *Shared) SetFlag(ctx context.Context, f snapshot.Flag) {
	if s == nil || s.client == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, flagKey(f.ProjectKey, f.FlagKey, f.EnvironmentKey), data, softTTL).Err(); err != nil {
		log.Printf("[cache] redis set flag failed: %v", err)
	}
}

// GetBootstrap reads a cached (project, environment) bootstrap.
func (s *Shared) GetBootstrap(ctx context.Context, projectKey, environmentKey string) (snapshot.Bootstrap, bool) {
	if s == nil || s.client == nil {
		return snapshot.Bootstrap{}, false
	}
	data, err := s.client.Get(ctx, bootstrapKey(projectKey, environmentKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[cache] redis get bootstrap failed: %v", err)
		}
		return snapshot.Bootstrap{}, false
	}
	var b snapshot.Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return snapshot.Bootstrap{}, false
	}
	return b, true
}

// SetBootstrap caches a (project, environment) bootstrap with a 60s TTL.
func (s *Shared) SetBootstrap(ctx context.Context, projectKey, environmentKey string, b snapshot.Bootstrap) {
	if s == nil || s.client == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, bootstrapKey(projectKey, environmentKey), data, softTTL).Err(); err != nil {
		log.Printf("[cache] redis set bootstrap failed: %v", err)
	}
}

// Invalidate removes both the flag and bootstrap keys for an
// (project, flagKey, environment) change.
func (s *Shared) Invalidate(ctx context.Context, projectKey, flagKey_, environmentKey string) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Del(ctx, flagKey(projectKey, flagKey_, environmentKey), bootstrapKey(projectKey, environmentKey)).Err(); err != nil {
		log.Printf("[cache] redis invalidate failed: %v", err)
	}
}

// NewClient builds a go-redis client from a CACHE_URL-style DSN
// (redis://[:password@]host:port/db).
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse CACHE_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
