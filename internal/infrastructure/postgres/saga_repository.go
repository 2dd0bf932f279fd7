package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/saga"
)

type stepRecord struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity"`
	State       string `json:"state"`
}

const sagaColumns = `id, order_id, status, steps, reason, created_at, updated_at`

type SagaRepository struct {
	pool *pgxpool.Pool
}

var _ domain.Repository = (*SagaRepository)(nil)

func NewSagaRepository(pool *pgxpool.Pool) *SagaRepository {
	return &SagaRepository{pool: pool}
}

// Begin inserts the saga or takes over a reclaimable one in a single statement,
// so two concurrent claims on the same order cannot both succeed.
func (r *SagaRepository) Begin(ctx context.Context, s *domain.Saga) error {
	if s == nil || s.OrderID == "" {
		return fmt.Errorf("saga repository: order id is required")
	}
	tag, err := r.pool.Exec(ctx, `INSERT INTO sagas (`+sagaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO UPDATE
		SET id = EXCLUDED.id, status = EXCLUDED.status, steps = EXCLUDED.steps, reason = EXCLUDED.reason,
		    created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
		WHERE sagas.status IN ($8, $9)`,
		s.ID, s.OrderID, string(s.Status), stepRecords(s.Steps), s.Reason, s.CreatedAt, s.UpdatedAt,
		string(domain.StatusAborted), string(domain.StatusCompensated),
	)
	if err != nil {
		return fmt.Errorf("saga repository: begin %s: %w", s.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *SagaRepository) Save(ctx context.Context, s *domain.Saga) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sagas SET status = $3, steps = $4, reason = $5, updated_at = $6
		WHERE order_id = $1 AND id = $2`,
		s.OrderID, s.ID, string(s.Status), stepRecords(s.Steps), s.Reason, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saga repository: save %s: %w", s.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SagaRepository) Get(ctx context.Context, orderID string) (*domain.Saga, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE order_id = $1`, orderID)
	s, err := scanSaga(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return s, err
}

func (r *SagaRepository) ListUnfinished(ctx context.Context, olderThan time.Time) ([]*domain.Saga, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sagaColumns+` FROM sagas
		WHERE status = $1 AND updated_at <= $2
		ORDER BY created_at`,
		string(domain.StatusInProgress), olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("saga repository: list unfinished: %w", err)
	}
	defer rows.Close()

	var out []*domain.Saga
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga repository: list unfinished: %w", err)
	}
	return out, nil
}

func scanSaga(row pgx.Row) (*domain.Saga, error) {
	var (
		s      domain.Saga
		status string
		steps  []stepRecord
	)
	if err := row.Scan(&s.ID, &s.OrderID, &status, &steps, &s.Reason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("saga repository: scan: %w", err)
	}
	s.Status = domain.Status(status)
	s.Steps = make([]domain.Step, len(steps))
	for i, st := range steps {
		s.Steps[i] = domain.Step{ProductID: st.ProductID, ProductName: st.ProductName, Quantity: st.Quantity, State: domain.StepState(st.State)}
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func stepRecords(steps []domain.Step) []stepRecord {
	out := make([]stepRecord, len(steps))
	for i, st := range steps {
		out[i] = stepRecord{ProductID: st.ProductID, ProductName: st.ProductName, Quantity: st.Quantity, State: string(st.State)}
	}
	return out
}
