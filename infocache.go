// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/die-net/lrucache"
	"github.com/gofrs/uuid"
	"github.com/peterbourgon/diskv"
)

// infoCacheEntry is the persisted unit of the info cache: the serialized
// info.json bytes plus the timestamp the entry was first built, per §4.5
// ("identifier -> JSON blob + timestamp"). It is itself JSON-encoded before
// being written to the diskv store, so FirstSeen survives a process
// restart instead of being re-derived from wall-clock time on next read.
type infoCacheEntry struct {
	JSON      []byte    `json:"json"`
	FirstSeen time.Time `json:"first_seen"`
}

// InfoCache caches ImageInfo.ToJSON() output keyed by identifier, backed by
// a diskv store (pairtree-transformed, per §4.5) and fronted by an
// in-memory LRU so repeated info.json requests for hot identifiers avoid
// disk entirely.
type InfoCache struct {
	disk *diskv.Diskv
	mem  *lrucache.LruCache

	mu      sync.RWMutex
	firstBy map[string]time.Time
}

// NewInfoCache opens an info cache rooted at dir, with an in-memory LRU
// front bounded to maxMemoryBytes (0 disables the in-memory layer).
func NewInfoCache(dir string, maxMemoryBytes int64) *InfoCache {
	disk := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    diskvPairtreeTransform,
		CacheSizeMax: 0,
	})

	ic := &InfoCache{disk: disk, firstBy: make(map[string]time.Time)}
	if maxMemoryBytes > 0 {
		ic.mem = lrucache.New(maxMemoryBytes, 0)
	}
	return ic
}

// diskvPairtreeTransform shards an identifier into pairtree-style nested
// directory components using the identifier's UUIDv5 digest, so the shard
// directory names are plain hex whatever characters the identifier holds,
// per §4.5. diskv still uses the identifier itself as the file name inside
// those directories.
func diskvPairtreeTransform(key string) []string {
	digest := uuid.NewV5(uuid.NamespaceURL, key)
	hex := digest.String()
	hex = hex[:8] // first 8 hex chars of the digest is enough sharding depth
	return []string{hex[0:2], hex[2:4], hex[4:6], hex[6:8]}
}

// readDiskEntry reads and decodes the persisted infoCacheEntry for
// identifier from the disk layer. It rejects entries with no JSON payload,
// which catches both corrupt writes and pre-upgrade entries written in the
// old raw-info.json-bytes format (those unmarshal into infoCacheEntry
// without error but leave JSON nil and FirstSeen zero).
func (ic *InfoCache) readDiskEntry(identifier string) ([]byte, time.Time, bool) {
	raw, err := ic.disk.Read(identifier)
	if err != nil {
		return nil, time.Time{}, false
	}
	var entry infoCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.JSON) == 0 {
		return nil, time.Time{}, false
	}
	return entry.JSON, entry.FirstSeen, true
}

// Get returns the cached info.json bytes and first-build time for
// identifier, if present.
func (ic *InfoCache) Get(identifier string) ([]byte, time.Time, bool) {
	if ic.mem != nil {
		if b, ok := ic.mem.Get(identifier); ok {
			ic.mu.RLock()
			t := ic.firstBy[identifier]
			ic.mu.RUnlock()
			return b, t, true
		}
	}

	body, firstSeen, ok := ic.readDiskEntry(identifier)
	if !ok {
		return nil, time.Time{}, false
	}

	ic.mu.Lock()
	ic.firstBy[identifier] = firstSeen
	ic.mu.Unlock()

	if ic.mem != nil {
		ic.mem.Set(identifier, body)
	}
	return body, firstSeen, true
}

// Set stores body (the info.json bytes) for identifier, preserving the
// entry's original first-build timestamp across re-Sets (from the
// in-memory record if known, else the disk layer if already persisted) and
// otherwise recording the current time.
func (ic *InfoCache) Set(identifier string, body []byte) error {
	ic.mu.RLock()
	firstSeen, known := ic.firstBy[identifier]
	ic.mu.RUnlock()

	if !known {
		if _, existing, ok := ic.readDiskEntry(identifier); ok {
			firstSeen = existing
		} else {
			firstSeen = time.Now()
		}
	}

	raw, err := json.Marshal(&infoCacheEntry{JSON: body, FirstSeen: firstSeen})
	if err != nil {
		return newImageInfoError("marshaling info cache entry for %q: %v", identifier, err)
	}
	if err := ic.disk.Write(identifier, raw); err != nil {
		return newImageInfoError("writing info cache entry for %q: %v", identifier, err)
	}

	ic.mu.Lock()
	ic.firstBy[identifier] = firstSeen
	ic.mu.Unlock()

	if ic.mem != nil {
		ic.mem.Set(identifier, body)
	}
	return nil
}

// Invalidate removes identifier from both cache layers.
func (ic *InfoCache) Invalidate(identifier string) error {
	if ic.mem != nil {
		ic.mem.Delete(identifier)
	}
	ic.mu.Lock()
	delete(ic.firstBy, identifier)
	ic.mu.Unlock()

	if err := ic.disk.Erase(identifier); err != nil {
		return newImageInfoError("invalidating info cache entry for %q: %v", identifier, err)
	}
	return nil
}
