/*
 * Copyright (c) 2026 PatientDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package cache provides client-side caching of patient records.

A patient record can carry megabytes of image data, and the protocol
has no partial fetch: req_one_patient always streams the whole record.
Interactive clients therefore cache fetched records and only refetch
when the store has changed.

Staleness is decided by the store timestamp, not by guessing: the
client polls req_time (a cheap single-line request), and a cached
record is served only when its stamp equals the current store
timestamp. Any write anywhere in the store advances the timestamp and
silently invalidates every cached record.

Usage Example:

	c := cache.New(cache.Config{
		MaxEntries: 100,
		TTL:        5 * time.Minute,
	})

	stamp, err := client.ReqTime()
	if err != nil {
		return err
	}
	if pr, ok := c.Get(id, stamp); ok {
		return render(pr)
	}
	pr, err := client.ReqOnePatient(id)
	if err != nil {
		return err
	}
	c.Set(pr, stamp)
*/
package cache

import (
	"container/list"
	"sync"
	"time"

	"patientdb/internal/record"
)

// Config holds the configuration for the patient cache.
type Config struct {
	// MaxEntries is the maximum number of cached patient records.
	// When exceeded, the least recently used entries are evicted.
	MaxEntries int

	// TTL is the time-to-live for cached entries. Entries older than
	// TTL are refetched even when the store timestamp is unchanged.
	TTL time.Duration

	// Enabled controls whether caching is active.
	Enabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 100,
		TTL:        5 * time.Minute,
		Enabled:    true,
	}
}

// entry represents one cached patient record.
type entry struct {
	id        uint64
	rec       *record.PatientRecord
	stamp     time.Time // store timestamp when fetched
	expiresAt time.Time
	element   *list.Element
}

// PatientCache caches patient records with LRU eviction, TTL
// expiration, and store-timestamp staleness checks.
type PatientCache struct {
	config Config

	mu sync.RWMutex

	// cache maps patient ids to entries
	cache map[uint64]*entry

	// lru tracks access order for LRU eviction
	lru *list.List

	// stats tracks cache performance
	hits   int64
	misses int64
}

// New creates a new PatientCache with the given configuration.
func New(config Config) *PatientCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}

	pc := &PatientCache{
		config: config,
		cache:  make(map[uint64]*entry),
		lru:    list.New(),
	}

	go pc.cleanupExpired()

	return pc
}

// Get retrieves a cached patient record. asOf is the current store
// timestamp; a cached record is returned only when it was fetched at
// exactly that timestamp and its TTL has not passed.
func (pc *PatientCache) Get(id uint64, asOf time.Time) (*record.PatientRecord, bool) {
	if !pc.config.Enabled {
		return nil, false
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	e, ok := pc.cache[id]
	if !ok {
		pc.misses++
		return nil, false
	}

	if !e.stamp.Equal(asOf) || time.Now().After(e.expiresAt) {
		pc.removeEntry(e)
		pc.misses++
		return nil, false
	}

	pc.lru.MoveToFront(e.element)
	pc.hits++

	return e.rec, true
}

// Set caches a patient record fetched while the store timestamp was
// asOf. The caller must not mutate the record after handing it over.
func (pc *PatientCache) Set(rec *record.PatientRecord, asOf time.Time) {
	if !pc.config.Enabled || rec == nil {
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	id := rec.Info.ID
	if e, ok := pc.cache[id]; ok {
		e.rec = rec
		e.stamp = asOf
		e.expiresAt = time.Now().Add(pc.config.TTL)
		pc.lru.MoveToFront(e.element)
		return
	}

	for len(pc.cache) >= pc.config.MaxEntries {
		pc.evictOldest()
	}

	e := &entry{
		id:        id,
		rec:       rec,
		stamp:     asOf,
		expiresAt: time.Now().Add(pc.config.TTL),
	}
	e.element = pc.lru.PushFront(e)
	pc.cache[id] = e
}

// Invalidate drops one patient from the cache. Clients call this after
// writing to a patient they hold cached, without waiting for the next
// timestamp check.
func (pc *PatientCache) Invalidate(id uint64) {
	if !pc.config.Enabled {
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if e, ok := pc.cache[id]; ok {
		pc.removeEntry(e)
	}
}

// InvalidateAll clears the entire cache.
func (pc *PatientCache) InvalidateAll() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.cache = make(map[uint64]*entry)
	pc.lru = list.New()
}

// removeEntry removes an entry from the cache (must hold lock).
func (pc *PatientCache) removeEntry(e *entry) {
	delete(pc.cache, e.id)
	pc.lru.Remove(e.element)
}

// evictOldest removes the least recently used entry (must hold lock).
func (pc *PatientCache) evictOldest() {
	elem := pc.lru.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*entry)
	pc.removeEntry(e)
}

// cleanupExpired periodically removes expired entries.
func (pc *PatientCache) cleanupExpired() {
	ticker := time.NewTicker(pc.config.TTL / 2)
	defer ticker.Stop()

	for range ticker.C {
		pc.mu.Lock()

		now := time.Now()
		for _, e := range pc.cache {
			if now.After(e.expiresAt) {
				pc.removeEntry(e)
			}
		}

		pc.mu.Unlock()
	}
}

// Stats holds cache statistics.
type Stats struct {
	Hits       int64
	Misses     int64
	Entries    int
	MaxEntries int
	HitRate    float64
}

// Stats returns current cache statistics.
func (pc *PatientCache) Stats() Stats {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	total := pc.hits + pc.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(pc.hits) / float64(total)
	}

	return Stats{
		Hits:       pc.hits,
		Misses:     pc.misses,
		Entries:    len(pc.cache),
		MaxEntries: pc.config.MaxEntries,
		HitRate:    hitRate,
	}
}

// SetEnabled enables or disables the cache.
func (pc *PatientCache) SetEnabled(enabled bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.config.Enabled = enabled
}
