package iiifimage

import (
	"os"
	"testing"
)

func testRequest(identifier, region, size, rotation string, format Format) ImageRequest {
	info := &ImageInfo{Width: 1000, Height: 1000}
	r, err := ParseRegion(region, info)
	if err != nil {
		panic(err)
	}
	s, err := ParseSize(size, r, 'w')
	if err != nil {
		panic(err)
	}
	rot, err := ParseRotation(rotation)
	if err != nil {
		panic(err)
	}
	return ImageRequest{
		Identifier: identifier,
		Region:     r,
		Size:       s,
		Rotation:   rot,
		Quality:    QualityDefault,
		Format:     format,
	}
}

func TestDerivativeCacheInsertAndLookup(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDerivativeCache(dir)
	if err != nil {
		t.Fatalf("NewDerivativeCache: %v", err)
	}

	req := testRequest("ex1", "full", "full", "0", FormatJPG)

	var built int
	build := func(target string) error {
		built++
		return os.WriteFile(target, []byte("derivative bytes"), 0o644)
	}

	path, err := cache.Insert(req, build)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if built != 1 {
		t.Fatalf("build invoked %d times, want 1", built)
	}

	gotPath, _, ok := cache.Lookup(req)
	if !ok {
		t.Fatal("Lookup did not find the inserted derivative")
	}
	if gotPath != path {
		t.Errorf("Lookup returned %q, want %q", gotPath, path)
	}

	data, err := os.ReadFile(gotPath)
	if err != nil {
		t.Fatalf("reading derivative: %v", err)
	}
	if string(data) != "derivative bytes" {
		t.Errorf("derivative contents = %q, want %q", data, "derivative bytes")
	}
}

func TestDerivativeCacheSharesBuildAcrossLiteralAndCanonicalKeys(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDerivativeCache(dir)
	if err != nil {
		t.Fatalf("NewDerivativeCache: %v", err)
	}

	// pct:0,0,100,100 is non-canonical for a full region; both its literal
	// and canonical paths should resolve to the same inserted blob.
	req := testRequest("ex2", "pct:0,0,100,100", "full", "0", FormatPNG)
	if req.LiteralPath() == req.CanonicalPath() {
		t.Fatal("test fixture request is unexpectedly already canonical")
	}

	build := func(target string) error {
		return os.WriteFile(target, []byte("x"), 0o644)
	}
	if _, err := cache.Insert(req, build); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	literalPath, _, ok := cache.Lookup(req)
	if !ok {
		t.Fatal("Lookup by literal key failed")
	}

	canonicalReq := req
	canonicalReq.Region.Literal = canonicalReq.Region.Canonical()
	canonicalPath, _, ok := cache.Lookup(canonicalReq)
	if !ok {
		t.Fatal("Lookup by canonical key failed")
	}
	if literalPath != canonicalPath {
		t.Errorf("literal key resolved to %q, canonical key resolved to %q", literalPath, canonicalPath)
	}
}

func TestDerivativeCacheLookupMiss(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDerivativeCache(dir)
	if err != nil {
		t.Fatalf("NewDerivativeCache: %v", err)
	}

	req := testRequest("missing", "full", "full", "0", FormatJPG)
	if _, _, ok := cache.Lookup(req); ok {
		t.Error("Lookup on empty cache reported a hit")
	}
}
