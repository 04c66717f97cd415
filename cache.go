// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DerivativeCache is the content-addressed filesystem store for rendered
// derivatives, per §4.4. A derivative is written once under a
// content-addressed path in img/, then linked from both its literal and
// canonical request keys so that two different literal requests that
// normalize to the same canonical form share one file on disk.
type DerivativeCache struct {
	// Root is the cache's base directory. It contains an "img/" subtree
	// holding content-addressed blobs and a "links/" subtree of pairtree
	// symlinks keyed by literal and canonical request paths.
	Root string

	groups sync.Map // canonical key -> *buildGroup
}

// buildGroup coordinates at-most-once derivative construction for a single
// canonical cache key within this process (§5). The filesystem rename is
// the cross-process contract; this is purely an in-process optimization to
// avoid redundant concurrent subprocess invocations for the same key.
type buildGroup struct {
	once sync.Once
	path string
	err  error
}

// NewDerivativeCache opens (creating if necessary) a DerivativeCache rooted
// at root.
func NewDerivativeCache(root string) (*DerivativeCache, error) {
	for _, sub := range []string{"img", "links"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, newImageError("creating cache directory %q: %v", sub, err)
		}
	}
	return &DerivativeCache{Root: root}, nil
}

// pairtreePath shards a flat key into nested two-character directory
// components, keeping any single cache directory from accumulating huge
// numbers of entries. Mirrors the pairtree convention referenced by §4.4.
func pairtreePath(key string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, key)

	var parts []string
	for len(clean) > 2 {
		parts = append(parts, clean[:2])
		clean = clean[2:]
	}
	parts = append(parts, clean)
	return filepath.Join(parts...)
}

// linkPath returns the on-disk symlink path for a request key (literal or
// canonical).
func (c *DerivativeCache) linkPath(key string) string {
	return filepath.Join(c.Root, "links", pairtreePath(key))
}

// Lookup resolves a request path (literal or canonical form) to the
// underlying derivative file and its modification time, per §4.4's
// literal-then-canonical lookup order.
func (c *DerivativeCache) Lookup(req ImageRequest) (path string, modTime time.Time, ok bool) {
	for _, key := range []string{req.LiteralPath(), req.CanonicalPath()} {
		link := c.linkPath(key)
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		info, err := os.Stat(target)
		if err != nil {
			continue
		}
		return target, info.ModTime(), true
	}
	return "", time.Time{}, false
}

// Insert builds the derivative for req (if another goroutine in this
// process isn't already building the same canonical key) by invoking
// build, then links both the literal and canonical keys to the resulting
// content-addressed file.
func (c *DerivativeCache) Insert(req ImageRequest, build func(targetPath string) error) (string, error) {
	canonicalKey := req.CanonicalPath()

	groupIface, _ := c.groups.LoadOrStore(canonicalKey, &buildGroup{})
	group := groupIface.(*buildGroup)

	group.once.Do(func() {
		group.path, group.err = c.insertOnce(req, build)
	})

	c.groups.Delete(canonicalKey)

	return group.path, group.err
}

func (c *DerivativeCache) insertOnce(req ImageRequest, build func(targetPath string) error) (string, error) {
	if path, _, ok := c.Lookup(req); ok {
		return path, nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", newImageError("generating cache blob id: %v", err)
	}
	blobName := id.String() + "." + string(req.Format)
	blobPath := filepath.Join(c.Root, "img", pairtreePath(blobName))
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", newImageError("creating blob directory for %q: %v", blobName, err)
	}

	if err := build(blobPath); err != nil {
		return "", err
	}

	canonicalKey := req.CanonicalPath()
	literalKey := req.LiteralPath()

	if err := c.link(canonicalKey, blobPath); err != nil {
		return "", err
	}
	if literalKey != canonicalKey {
		if err := c.link(literalKey, blobPath); err != nil {
			return "", err
		}
	}

	return blobPath, nil
}

// link creates the symlink for key, pointing at target, per §4.4's dual-key
// dedup scheme. An existing link for key is left as it is.
func (c *DerivativeCache) link(key, target string) error {
	link := c.linkPath(key)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return newImageError("creating link directory for %q: %v", key, err)
	}

	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		rel = target
	}

	if err := os.Symlink(rel, link); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return newImageError("linking cache key %q: %v", key, err)
	}
	return nil
}
