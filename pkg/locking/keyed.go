// Package locking provides per-key mutual exclusion with bounded waits.
// The stock core uses it to serialize all lot mutations for one product
// while letting operations on different products proceed in parallel.
package locking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// KeyedMutex is a set of mutexes addressed by string key. A key's mutex is
// created on first use and held as long as any caller is waiting on it.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

type entry struct {
	ch   chan struct{} // buffered size 1; token present = unlocked
	refs int
}

// ErrTimeout is returned by Acquire when the wait bound elapses. Callers
// translate it into the BUSY application error.
var ErrTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "lock acquisition timed out" }

// New creates a KeyedMutex whose Acquire calls wait at most timeout.
// A zero timeout means waits are bounded only by the caller's context.
func New(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Acquire locks the mutex for key, waiting up to the configured timeout or
// until ctx is done. On success the caller must release via the returned
// function, typically with defer.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (release func(), err error) {
	e := k.retain(key)

	var timeoutCh <-chan time.Time
	if k.timeout > 0 {
		timer := time.NewTimer(k.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-e.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				e.ch <- struct{}{}
				k.put(key)
			})
		}, nil
	case <-ctx.Done():
		k.put(key)
		return nil, ctx.Err()
	case <-timeoutCh:
		k.put(key)
		return nil, ErrTimeout
	}
}

// AcquireAll locks the mutexes for every key, in sorted order so that two
// callers locking overlapping key sets cannot deadlock each other. On any
// failure every lock already taken is released.
func (k *KeyedMutex) AcquireAll(ctx context.Context, keys []string) (release func(), err error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, key)
	}
	sort.Strings(uniq)

	releases := make([]func(), 0, len(uniq))
	for _, key := range uniq {
		rel, err := k.Acquire(ctx, key)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return nil, err
		}
		releases = append(releases, rel)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
		})
	}, nil
}

func (k *KeyedMutex) retain(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

// put drops one reference to key's entry, deleting it when unused so the
// map does not grow with the product catalog.
func (k *KeyedMutex) put(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}
