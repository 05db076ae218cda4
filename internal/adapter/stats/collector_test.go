package stats

import (
	"sync"
	"testing"
)

func TestRecordRequestCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequest(1, true, 100, 200)
	c.RecordRequest(1, true, 300, 200)
	c.RecordRequest(1, false, 0, 503)

	snap := c.Snapshot()[1]
	if snap.TotalRequests != 3 || snap.SuccessRequests != 2 || snap.ErrorRequests != 1 {
		t.Fatalf("counters = %+v", snap)
	}
	if snap.AvgLatencyMs != 200 {
		t.Fatalf("avg latency = %d, want 200", snap.AvgLatencyMs)
	}
	if snap.MinLatencyMs != 100 || snap.MaxLatencyMs != 300 {
		t.Fatalf("min/max = %d/%d", snap.MinLatencyMs, snap.MaxLatencyMs)
	}
	if snap.LastStatusCode != 503 {
		t.Fatalf("last status = %d", snap.LastStatusCode)
	}

	global := c.GlobalSnapshot()
	if global.TotalRequests != 3 || global.SuccessRequests != 2 || global.ErrorRequests != 1 {
		t.Fatalf("global = %+v", global)
	}
}

func TestRecordStreamBytes(t *testing.T) {
	c := NewCollector()
	c.RecordStreamBytes(1, 512)
	c.RecordStreamBytes(1, 512)
	c.RecordStreamBytes(2, 0) // ignored

	if got := c.Snapshot()[1].BytesStreamed; got != 1024 {
		t.Fatalf("bytes = %d", got)
	}
	if _, ok := c.Snapshot()[2]; ok {
		t.Fatal("zero-byte record should not materialise an entry")
	}
	if got := c.GlobalSnapshot().BytesStreamed; got != 1024 {
		t.Fatalf("global bytes = %d", got)
	}
}

func TestFailuresDoNotSkewLatency(t *testing.T) {
	c := NewCollector()
	c.RecordRequest(1, true, 100, 200)
	c.RecordRequest(1, false, 9999, 500)

	snap := c.Snapshot()[1]
	if snap.AvgLatencyMs != 100 {
		t.Fatalf("failure latency leaked into the mean: %d", snap.AvgLatencyMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	const workers, per = 8, 500

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				c.RecordRequest(1, j%2 == 0, int64(j), 200)
				c.RecordStreamBytes(1, 1)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()[1]
	if snap.TotalRequests != workers*per {
		t.Fatalf("total = %d, want %d", snap.TotalRequests, workers*per)
	}
	if snap.SuccessRequests+snap.ErrorRequests != snap.TotalRequests {
		t.Fatal("success + error must equal total")
	}
	if snap.BytesStreamed != workers*per {
		t.Fatalf("bytes = %d", snap.BytesStreamed)
	}
}
