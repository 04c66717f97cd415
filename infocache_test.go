// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package iiifimage

import (
	"testing"
)

func TestInfoCacheGetSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ic := NewInfoCache(dir, 64<<20)

	body := []byte(`{"width":2000,"height":1000}`)
	if err := ic.Set("ex1", body); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, firstSeen, ok := ic.Get("ex1")
	if !ok {
		t.Fatal("Get reported a miss after Set")
	}
	if string(got) != string(body) {
		t.Errorf("Get returned %q, want %q", got, body)
	}
	if firstSeen.IsZero() {
		t.Error("Get returned a zero first-build timestamp")
	}
}

// TestInfoCacheFirstSeenSurvivesRestart simulates a process restart by
// constructing a fresh InfoCache (with an empty in-memory layer) rooted at
// the same disk directory, and checks that the first-build timestamp
// written by the original instance is recovered unchanged rather than
// fabricated as time.Now() on the new instance's first read.
func TestInfoCacheFirstSeenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first := NewInfoCache(dir, 64<<20)
	if err := first.Set("ex1", []byte(`{"width":2000,"height":1000}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, wantFirstSeen, ok := first.Get("ex1")
	if !ok {
		t.Fatal("Get on original instance reported a miss")
	}

	restarted := NewInfoCache(dir, 64<<20)
	_, gotFirstSeen, ok := restarted.Get("ex1")
	if !ok {
		t.Fatal("Get on restarted instance reported a miss")
	}
	if !gotFirstSeen.Equal(wantFirstSeen) {
		t.Errorf("restarted instance recovered FirstSeen = %v, want %v", gotFirstSeen, wantFirstSeen)
	}
}

func TestInfoCacheSetPreservesFirstSeenAcrossUpdates(t *testing.T) {
	dir := t.TempDir()
	ic := NewInfoCache(dir, 64<<20)

	if err := ic.Set("ex1", []byte(`{"width":100}`)); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	_, firstSeen, _ := ic.Get("ex1")

	if err := ic.Set("ex1", []byte(`{"width":200}`)); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	body, secondSeen, ok := ic.Get("ex1")
	if !ok {
		t.Fatal("Get reported a miss after second Set")
	}
	if string(body) != `{"width":200}` {
		t.Errorf("Get returned %q, want updated body", body)
	}
	if !secondSeen.Equal(firstSeen) {
		t.Errorf("FirstSeen changed across updates: got %v, want %v", secondSeen, firstSeen)
	}
}

func TestInfoCacheInvalidate(t *testing.T) {
	dir := t.TempDir()
	ic := NewInfoCache(dir, 64<<20)

	if err := ic.Set("ex1", []byte(`{"width":100}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ic.Invalidate("ex1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, _, ok := ic.Get("ex1"); ok {
		t.Error("Get found an entry after Invalidate")
	}
}
