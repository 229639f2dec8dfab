package compensation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// orderInvoker records invocation order and can fail specific transactions.
type orderInvoker struct {
	mu     sync.Mutex
	calls  []string
	failTx map[string]bool
}

func (o *orderInvoker) Compensate(ctx context.Context, target, transactionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failTx[transactionID] {
		return fmt.Errorf("undo failed for %s", transactionID)
	}
	o.calls = append(o.calls, transactionID)
	return nil
}

func registerHops(t *testing.T, s *Store, sagaID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	txids := make([]string, n)
	for i := 0; i < n; i++ {
		e, err := s.Register(ctx, fmt.Sprintf("agent-%d", i), "t-saga", "http://target", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AppendHop(ctx, sagaID, e.TransactionID); err != nil {
			t.Fatal(err)
		}
		txids[i] = e.TransactionID
	}
	return txids
}

func TestSagaHopsOrdered(t *testing.T) {
	s := newTestStore(t)
	txids := registerHops(t, s, "saga-1", 3)

	got, err := s.SagaHops(context.Background(), "saga-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("hops = %d, want 3", len(got))
	}
	for i := range txids {
		if got[i] != txids[i] {
			t.Errorf("hop[%d] = %s, want %s", i, got[i], txids[i])
		}
	}
}

func TestCompensateSagaReverseOrder(t *testing.T) {
	s := newTestStore(t)
	txids := registerHops(t, s, "saga-1", 3)

	inv := &orderInvoker{}
	results, err := s.CompensateSaga(context.Background(), "saga-1", inv)
	if err != nil {
		t.Fatalf("CompensateSaga() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, hr := range results {
		if hr.Result != ResultCompensated {
			t.Errorf("hop %s result = %s, want compensated", hr.TransactionID, hr.Result)
		}
	}

	// Undo ran in reverse call order.
	want := []string{txids[2], txids[1], txids[0]}
	for i, tx := range want {
		if inv.calls[i] != tx {
			t.Errorf("invocation[%d] = %s, want %s", i, inv.calls[i], tx)
		}
	}
}

func TestCompensateSagaAbortsOnFirstFailure(t *testing.T) {
	s := newTestStore(t)
	txids := registerHops(t, s, "saga-1", 3)

	// Middle hop (second to be walked) fails.
	inv := &orderInvoker{failTx: map[string]bool{txids[1]: true}}
	results, err := s.CompensateSaga(context.Background(), "saga-1", inv)
	if err != nil {
		t.Fatalf("CompensateSaga() error: %v", err)
	}

	// Walk order: txids[2] ok, txids[1] fails, txids[0] never attempted.
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (walk aborts on failure)", len(results))
	}
	if results[0].Result != ResultCompensated || results[0].TransactionID != txids[2] {
		t.Errorf("first hop = %+v", results[0])
	}
	if results[1].Result != ResultFailed || results[1].TransactionID != txids[1] {
		t.Errorf("second hop = %+v", results[1])
	}

	// Failed and unattempted hops remain open (undoable on retry).
	for _, tx := range []string{txids[0], txids[1]} {
		e, err := s.Get(context.Background(), tx)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != StatusOpen {
			t.Errorf("hop %s status = %s, want open", tx, e.Status)
		}
	}
}

func TestCompensateSagaSkipsAlreadyCompensated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txids := registerHops(t, s, "saga-1", 2)

	// Compensate the last hop individually first.
	inv := &orderInvoker{}
	if res, err := s.Compensate(ctx, txids[1], inv); err != nil || res != ResultCompensated {
		t.Fatalf("pre-compensation failed: %s, %v", res, err)
	}

	results, err := s.CompensateSaga(ctx, "saga-1", inv)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Result != ResultAlreadyCompensated {
		t.Errorf("hop[0] = %s, want already_compensated", results[0].Result)
	}
	if results[1].Result != ResultCompensated {
		t.Errorf("hop[1] = %s, want compensated (walk continued)", results[1].Result)
	}
}

func TestCompensateSagaUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CompensateSaga(context.Background(), "saga-ghost", &orderInvoker{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterSagaOrderedList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var txids []string
	for i := 0; i < 3; i++ {
		e, err := s.Register(ctx, "agent", "t-1", "http://target", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		txids = append(txids, e.TransactionID)
	}
	if err := s.RegisterSaga(ctx, "saga-2", txids); err != nil {
		t.Fatal(err)
	}

	got, err := s.SagaHops(ctx, "saga-2")
	if err != nil {
		t.Fatal(err)
	}
	for i := range txids {
		if got[i] != txids[i] {
			t.Errorf("hop[%d] = %s, want %s", i, got[i], txids[i])
		}
	}
}
