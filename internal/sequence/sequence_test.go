package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/siamfx/naga/internal/domain"
)

// counterRepo allocates from in-memory counters with the same gapless
// contract as the SQL implementation.
type counterRepo struct {
	domain.Repository

	mu       sync.Mutex
	counters map[string]int64
}

func newCounterRepo() *counterRepo {
	return &counterRepo{counters: make(map[string]int64)}
}

func (r *counterRepo) NextSequence(_ context.Context, branchID string, date time.Time, kind string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := branchID + "/" + date.Format("2006-01-02") + "/" + kind
	r.counters[key]++
	return r.counters[key], nil
}

func TestNextIsGapless(t *testing.T) {
	repo := newCounterRepo()
	svc := New(repo, domain.FixedClock{T: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})

	for want := int64(1); want <= 5; want++ {
		got, err := svc.Next(context.Background(), "BKK01", KindReceipt)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Errorf("seq = %d, want %d", got, want)
		}
	}
}

func TestCountersAreIndependent(t *testing.T) {
	repo := newCounterRepo()
	day1 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	svc := New(repo, domain.FixedClock{T: day1})

	ctx := context.Background()
	if _, err := svc.NextFor(ctx, "BKK01", KindReceipt, day1); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := svc.NextFor(ctx, "BKK01", KindReceipt, day1); err != nil {
		t.Fatalf("next: %v", err)
	}

	cases := []struct {
		name   string
		branch string
		kind   string
		date   time.Time
	}{
		{"new date resets", "BKK01", KindReceipt, day2},
		{"other branch", "CNX02", KindReceipt, day1},
		{"other kind", "BKK01", KindReport, day1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.NextFor(ctx, tc.branch, tc.kind, tc.date)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if got != 1 {
				t.Errorf("seq = %d, want 1", got)
			}
		})
	}
}

func TestConcurrentAllocation(t *testing.T) {
	repo := newCounterRepo()
	svc := New(repo, domain.FixedClock{T: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})

	const n = 50
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := svc.Next(context.Background(), "BKK01", KindReceipt)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			results <- seq
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for seq := range results {
		if seen[seq] {
			t.Errorf("duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Errorf("missing sequence %d", want)
		}
	}
}

func TestIdentifierFormats(t *testing.T) {
	repo := newCounterRepo()
	svc := New(repo, domain.FixedClock{T: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	resNo, err := svc.ReservationNo(ctx, domain.ReportAMLOCTR, "BKK01")
	if err != nil {
		t.Fatalf("reservation no: %v", err)
	}
	if resNo != "AMLO-1-01_BKK01-2026-000001" {
		t.Errorf("reservation_no = %q", resNo)
	}

	repNo, err := svc.ReportNo(ctx, domain.ReportAMLOCTR, "BKK01", "A005")
	if err != nil {
		t.Fatalf("report no: %v", err)
	}
	if repNo != "AMLO-1-01_A005-2026000001" {
		t.Errorf("report_no = %q", repNo)
	}
}
