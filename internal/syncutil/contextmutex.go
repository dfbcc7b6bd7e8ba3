// Package syncutil holds locking helpers shared by the analysis paths.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used when NewKeyLock gets a non-positive size.
const DefaultShards = 64

// KeyLock serializes work per key over a fixed pool of channel-backed
// locks. Distinct keys may share a shard; waiters can give up when their
// context ends.
type KeyLock struct {
	shards []chan struct{}
}

// NewKeyLock returns a KeyLock with n shards.
func NewKeyLock(n int) *KeyLock {
	if n <= 0 {
		n = DefaultShards
	}
	l := &KeyLock{shards: make([]chan struct{}, n)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock acquires the shard for key. The returned func releases it and must
// be called exactly once. If ctx ends first, Lock returns ctx.Err().
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.shards[l.shard(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *KeyLock) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.shards)))
}
