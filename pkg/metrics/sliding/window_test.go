package sliding

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestWindow_Empty(t *testing.T) {
	w, err := NewWindow(nil)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	stats := w.GetStats()
	if stats.Count != 0 || stats.AvgLatency != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestWindow_InvalidSize(t *testing.T) {
	if _, err := NewWindow(&WindowConfig{Size: -1}); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestWindow_Stats(t *testing.T) {
	w, err := NewWindow(&WindowConfig{Size: 4})
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	w.Record(10*time.Millisecond, true)
	w.Record(20*time.Millisecond, true)
	w.Record(30*time.Millisecond, false)

	stats := w.GetStats()
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.AvgLatency != 20*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 20ms", stats.AvgLatency)
	}
	if stats.MinLatency != 10*time.Millisecond || stats.MaxLatency != 30*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.MinLatency, stats.MaxLatency)
	}
	if stats.SuccessCount != 2 || stats.FailureCount != 1 {
		t.Errorf("Success/Failure = %d/%d", stats.SuccessCount, stats.FailureCount)
	}
}

func TestWindow_Overwrite(t *testing.T) {
	w, _ := NewWindow(&WindowConfig{Size: 2})

	w.Record(100*time.Millisecond, true)
	w.Record(2*time.Millisecond, true)
	w.Record(4*time.Millisecond, true)

	if got := w.GetAvgLatency(); got != 3*time.Millisecond {
		t.Errorf("GetAvgLatency() = %v, want 3ms", got)
	}

	w.Reset()
	if got := w.GetStats().Count; got != 0 {
		t.Errorf("Count after Reset = %d", got)
	}
}

// 平均值始终等于最近 size 个样本的均值
func TestWindow_AverageOfLastSamples(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 20).Draw(t, "size")
		latencies := rapid.SliceOf(rapid.Int64Range(0, 1_000_000)).Draw(t, "latencies")

		w, err := NewWindow(&WindowConfig{Size: size})
		if err != nil {
			t.Fatalf("NewWindow() error = %v", err)
		}
		for _, l := range latencies {
			w.Record(time.Duration(l), true)
		}

		tail := latencies
		if len(tail) > size {
			tail = tail[len(tail)-size:]
		}
		var want time.Duration
		if len(tail) > 0 {
			var sum int64
			for _, l := range tail {
				sum += l
			}
			want = time.Duration(sum / int64(len(tail)))
		}

		stats := w.GetStats()
		if stats.Count != len(tail) {
			t.Fatalf("Count = %d, want %d", stats.Count, len(tail))
		}
		if stats.AvgLatency != want {
			t.Fatalf("AvgLatency = %v, want %v", stats.AvgLatency, want)
		}
	})
}
