package fifo

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"pgregory.net/rapid"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestFIFO_Basic(t *testing.T) {
	cache := New[string, int](Config{MaxSize: 100, DefaultTTL: time.Minute})

	cache.Set("key1", 100)
	val, ok := cache.Get("key1")
	if !ok {
		t.Error("expected key1 to exist")
	}
	if val != 100 {
		t.Errorf("expected 100, got %d", val)
	}

	if _, ok := cache.Get("nonexistent"); ok {
		t.Error("expected nonexistent key to not exist")
	}

	if !cache.Delete("key1") {
		t.Error("expected Delete to report key1")
	}
	if cache.Delete("key1") {
		t.Error("expected second Delete to report false")
	}

	cache.Set("a", 1)
	cache.Set("b", 2)
	if cache.Len() != 2 {
		t.Errorf("expected len 2, got %d", cache.Len())
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("expected len 0 after clear, got %d", cache.Len())
	}
}

func TestFIFO_EvictsOldestInserted(t *testing.T) {
	var evicted []string
	cache := New[string, int](Config{MaxSize: 3}, WithOnEvict(func(k string, v int) {
		evicted = append(evicted, k)
	}))

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	// 读取不影响淘汰顺序
	cache.Get("a")
	cache.Set("d", 4)

	if _, ok := cache.Get("a"); ok {
		t.Error("expected 'a' to be evicted")
	}
	if fmt.Sprint(cache.Keys()) != "[b c d]" {
		t.Errorf("unexpected order %v", cache.Keys())
	}
	if fmt.Sprint(evicted) != "[a]" {
		t.Errorf("unexpected evictions %v", evicted)
	}
}

func TestFIFO_UpdateKeepsPosition(t *testing.T) {
	cache := New[string, int](Config{MaxSize: 2})

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("a", 10)
	cache.Set("c", 3)

	if _, ok := cache.Get("a"); ok {
		t.Error("updated key should still be evicted first")
	}
	if v, _ := cache.Get("b"); v != 2 {
		t.Errorf("expected b=2, got %d", v)
	}
}

func TestFIFO_TTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := New[string, int](Config{MaxSize: 10, DefaultTTL: time.Second}, WithClock[string, int](clock.now))

	cache.Set("short", 1)
	cache.SetWithTTL("long", 2, time.Minute)
	cache.SetWithTTL("forever", 3, 0)

	clock.advance(2 * time.Second)

	if _, ok := cache.Get("short"); ok {
		t.Error("expected short to expire")
	}
	if _, ok := cache.Get("long"); !ok {
		t.Error("expected long to survive")
	}

	clock.advance(time.Hour)
	if n := cache.RemoveExpired(); n != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", n)
	}
	if v, ok := cache.Get("forever"); !ok || v != 3 {
		t.Error("entry without ttl should never expire")
	}
}

func TestFIFO_ZeroMaxSize(t *testing.T) {
	cache := New[int, int](Config{})
	cache.Set(1, 1)
	cache.Set(2, 2)
	if cache.Len() != 1 || cache.MaxSize() != 1 {
		t.Errorf("expected capacity 1, got len=%d max=%d", cache.Len(), cache.MaxSize())
	}
}

func TestFIFO_MatchesInsertionOrderModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSize := rapid.IntRange(1, 16).Draw(t, "maxSize")
		cache := New[int, int](Config{MaxSize: maxSize})

		var model []int
		keys := rapid.SliceOf(rapid.IntRange(0, 40)).Draw(t, "keys")
		for _, k := range keys {
			cache.Set(k, k)
			if !slices.Contains(model, k) {
				if len(model) == maxSize {
					model = model[1:]
				}
				model = append(model, k)
			}
			if cache.Len() > maxSize {
				t.Fatalf("len %d exceeds max %d", cache.Len(), maxSize)
			}
		}

		if got := cache.Keys(); !slices.Equal(got, model) {
			t.Fatalf("keys %v, want %v", got, model)
		}
	})
}
