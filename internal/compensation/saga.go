package compensation

import (
	"context"
	"fmt"
)

// HopResult reports the compensation outcome of one saga hop.
type HopResult struct {
	Order         int    `json:"order"`
	TransactionID string `json:"transaction_id"`
	Result        Result `json:"result"`
	Error         string `json:"error,omitempty"`
}

// RegisterSaga records a saga's hops in call order. Hop order is this
// explicit list, never inferred from timestamps.
func (s *Store) RegisterSaga(ctx context.Context, sagaID string, orderedTxIDs []string) error {
	for _, txid := range orderedTxIDs {
		if err := s.AppendHop(ctx, sagaID, txid); err != nil {
			return err
		}
	}
	return nil
}

// AppendHop records a transaction as the next hop of a saga. Hops are
// numbered in registration order; compensation walks them in reverse.
func (s *Store) AppendHop(ctx context.Context, sagaID, transactionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saga_hops (saga_id, hop_order, transaction_id)
		 VALUES (?, COALESCE((SELECT MAX(hop_order) FROM saga_hops WHERE saga_id = ?), 0) + 1, ?)`,
		sagaID, sagaID, transactionID)
	if err != nil {
		return fmt.Errorf("compensation: append saga hop: %w", err)
	}
	return nil
}

// SagaHops returns a saga's transaction ids in registration order.
func (s *Store) SagaHops(ctx context.Context, sagaID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id FROM saga_hops WHERE saga_id = ? ORDER BY hop_order ASC`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("compensation: load saga: %w", err)
	}
	defer rows.Close()

	var txids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("compensation: scan saga hop: %w", err)
		}
		txids = append(txids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compensation: saga rows: %w", err)
	}
	return txids, nil
}

// CompensateSaga rolls back every hop of a saga in reverse registration
// order. The walk stops at the first hop whose undo invocation fails, so
// the returned results show exactly which entries remain uncompensated.
// Hops that are already compensated or expired do not stop the walk.
func (s *Store) CompensateSaga(ctx context.Context, sagaID string, inv Invoker) ([]HopResult, error) {
	txids, err := s.SagaHops(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if len(txids) == 0 {
		return nil, ErrNotFound
	}

	var results []HopResult
	for i := len(txids) - 1; i >= 0; i-- {
		hop := HopResult{Order: i + 1, TransactionID: txids[i]}
		res, err := s.Compensate(ctx, txids[i], inv)
		hop.Result = res
		if err != nil {
			hop.Error = err.Error()
		}
		results = append(results, hop)
		if res == ResultFailed {
			break
		}
	}
	return results, nil
}
