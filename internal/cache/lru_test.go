// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestLRU_BasicOperations(t *testing.T) {
	t.Parallel()

	c := New[int](3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	for key, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		got, ok := c.Get(key)
		if !ok || got != want {
			t.Errorf("Get(%q) = %d, %v; want %d, true", key, got, ok, want)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if !c.Remove("a") || c.Remove("a") {
		t.Error("Remove should succeed once")
	}
}

func TestLRU_Eviction(t *testing.T) {
	t.Parallel()

	c := New[struct{}](3, time.Minute)
	c.Add("a", struct{}{})
	c.Add("b", struct{}{})
	c.Add("c", struct{}{})

	// touch a so b becomes least recently used
	c.Get("a")
	c.Add("d", struct{}{})

	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Contains(k) {
			t.Errorf("expected %s to remain", k)
		}
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[string](10, time.Second).WithClock(clk.Now)

	c.Add("x", "v")
	clk.Advance(500 * time.Millisecond)
	if !c.Contains("x") {
		t.Fatal("entry should still be live")
	}
	clk.Advance(time.Second)
	if _, ok := c.Get("x"); ok {
		t.Error("entry should have expired")
	}

	c.Add("y", "v")
	c.Add("z", "v")
	clk.Advance(2 * time.Second)
	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired() = %d, want 2", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRU_Seen(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[struct{}](10, time.Minute).WithClock(clk.Now)

	if c.Seen("alert-1", struct{}{}) {
		t.Error("first sighting should not be a duplicate")
	}
	if !c.Seen("alert-1", struct{}{}) {
		t.Error("second sighting within TTL should be a duplicate")
	}
	clk.Advance(2 * time.Minute)
	if c.Seen("alert-1", struct{}{}) {
		t.Error("sighting after TTL should not be a duplicate")
	}

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 2 || size != 1 {
		t.Errorf("Stats() = %d, %d, %d; want 1, 2, 1", hits, misses, size)
	}
}

func TestLRU_SeenConcurrent(t *testing.T) {
	t.Parallel()

	c := New[struct{}](1000, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("same", struct{}{}) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("exactly one goroutine should see the key first, got %d", firsts)
	}
}

func TestLRU_Clear(t *testing.T) {
	t.Parallel()

	c := New[int](0, 0)
	for i := 0; i < 10; i++ {
		c.Add(strconv.Itoa(i), i)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	c.Add("after", 1)
	if !c.Contains("after") {
		t.Error("cache should be usable after Clear")
	}
}
