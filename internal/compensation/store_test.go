package compensation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeInvoker) Compensate(ctx context.Context, target, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("undo endpoint down")
	}
	f.calls = append(f.calls, transactionID)
	return nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "compensation.db"))
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if e.TransactionID == "" {
		t.Fatal("empty transaction id")
	}
	if e.Status != StatusOpen {
		t.Errorf("status = %s, want open", e.Status)
	}

	got, err := s.Get(ctx, e.TransactionID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.AgentID != "billing" || got.TraceID != "t-1" || got.Target != "http://target" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.UndoDeadline.After(got.CreatedAt) {
		t.Error("undo deadline must be after creation")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "tx-ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompensateOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inv := &fakeInvoker{}

	e, _ := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)

	res, err := s.Compensate(ctx, e.TransactionID, inv)
	if err != nil {
		t.Fatalf("Compensate() error: %v", err)
	}
	if res != ResultCompensated {
		t.Fatalf("result = %s, want compensated", res)
	}
	if inv.count() != 1 {
		t.Errorf("invoker calls = %d, want 1", inv.count())
	}

	// Second attempt loses the claim.
	res, err = s.Compensate(ctx, e.TransactionID, inv)
	if err != nil {
		t.Fatalf("second Compensate() error: %v", err)
	}
	if res != ResultAlreadyCompensated {
		t.Fatalf("result = %s, want already_compensated", res)
	}
	if inv.count() != 1 {
		t.Errorf("invoker calls = %d after duplicate, want still 1", inv.count())
	}
}

func TestCompensateExpiredNeverInvokes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inv := &fakeInvoker{}

	now := time.Now()
	s.now = func() time.Time { return now }

	e, _ := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)

	now = now.Add(2 * time.Minute)

	res, err := s.Compensate(ctx, e.TransactionID, inv)
	if err != nil {
		t.Fatalf("Compensate() error: %v", err)
	}
	if res != ResultExpired {
		t.Fatalf("result = %s, want expired", res)
	}
	if inv.count() != 0 {
		t.Errorf("undo endpoint invoked for expired entry")
	}

	got, err := s.Get(ctx, e.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestGetLazilyExpires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	e, _ := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)
	now = now.Add(time.Hour)

	got, err := s.Get(ctx, e.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired on read", got.Status)
	}
}

func TestCompensateNotFound(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Compensate(context.Background(), "tx-ghost", &fakeInvoker{})
	if err != nil {
		t.Fatalf("Compensate() error: %v", err)
	}
	if res != ResultNotFound {
		t.Fatalf("result = %s, want not_found", res)
	}
}

func TestCompensateInvokeFailureReleasesClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, _ := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)

	failing := &fakeInvoker{fail: true}
	res, err := s.Compensate(ctx, e.TransactionID, failing)
	if res != ResultFailed {
		t.Fatalf("result = %s, want failed", res)
	}
	if err == nil {
		t.Fatal("expected error from failed invocation")
	}

	// Entry stays open so a retry can succeed.
	got, gerr := s.Get(ctx, e.TransactionID)
	if gerr != nil {
		t.Fatal(gerr)
	}
	if got.Status != StatusOpen {
		t.Fatalf("status = %s, want open after failed invoke", got.Status)
	}

	working := &fakeInvoker{}
	res, err = s.Compensate(ctx, e.TransactionID, working)
	if err != nil || res != ResultCompensated {
		t.Fatalf("retry = %s, %v; want compensated", res, err)
	}
}

func TestConcurrentCompensateSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inv := &fakeInvoker{}

	e, _ := s.Register(ctx, "billing", "t-1", "http://target", time.Minute)

	const n = 8
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Compensate(ctx, e.TransactionID, inv)
			if err != nil {
				t.Errorf("Compensate() error: %v", err)
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var wins, dups int
	for res := range results {
		switch res {
		case ResultCompensated:
			wins++
		case ResultAlreadyCompensated:
			dups++
		default:
			t.Errorf("unexpected result %s", res)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if dups != n-1 {
		t.Errorf("duplicates = %d, want %d", dups, n-1)
	}
	if inv.count() != 1 {
		t.Errorf("undo endpoint invoked %d times, want 1", inv.count())
	}
}
