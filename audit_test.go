package sqlgate

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemorySink_AppendOrderPreserved(t *testing.T) {
	t.Parallel()
	sink := &MemorySink{}
	for i := 0; i < 5; i++ {
		rec := AuditRecord{ID: fmt.Sprintf("rec-%d", i), ActorID: "t1", Status: StatusSuccess}
		if err := sink.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	records := sink.Records()
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.ID != fmt.Sprintf("rec-%d", i) {
			t.Fatalf("append order broken at index %d: %q", i, rec.ID)
		}
	}
}

func TestMemorySink_RecordsReturnsCopy(t *testing.T) {
	t.Parallel()
	sink := &MemorySink{}
	sink.Append(context.Background(), AuditRecord{ID: "a", Status: StatusBlocked})

	records := sink.Records()
	records[0].ID = "tampered"

	if sink.Records()[0].ID != "a" {
		t.Fatal("Records must return a copy, not the backing slice")
	}
}

func TestMemorySink_ConcurrentAppends(t *testing.T) {
	t.Parallel()
	sink := &MemorySink{}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink.Append(context.Background(), AuditRecord{ID: fmt.Sprintf("rec-%d", i)})
		}(i)
	}
	wg.Wait()
	if got := len(sink.Records()); got != 32 {
		t.Fatalf("expected 32 records, got %d", got)
	}
}

func TestNopSink_Discards(t *testing.T) {
	t.Parallel()
	var sink NopSink
	if err := sink.Append(context.Background(), AuditRecord{ID: "x"}); err != nil {
		t.Fatalf("NopSink.Append must never fail: %v", err)
	}
}
