package postgres

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal/ticket"
	"github.com/jmoiron/sqlx"
)

const (
	statusCountsQuery = `SELECT status, COUNT(*) AS total FROM tickets WHERE creator_id = $1 GROUP BY status`

	pendingApprovalQuery = `SELECT COUNT(*) FROM tickets t
JOIN ticket_node_approvers a
  ON a.ticket_id = t.id AND a.node_id = t.current_node_id AND a.visit = t.node_visit
WHERE t.status = 'pending' AND a.user_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM approval_records r
    WHERE r.ticket_id = t.id AND r.node_id = t.current_node_id AND r.visit = t.node_visit AND r.approver_id = $1
  )`
)

// StatsRepository runs the dashboard aggregates as plain SQL.
type StatsRepository struct {
	db *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

var _ ticket.StatsRepository = (*StatsRepository)(nil)

type statusCount struct {
	Status string `db:"status"`
	Total  int64  `db:"total"`
}

func (r *StatsRepository) UserStats(ctx context.Context, userID int64) (*ticket.Stats, error) {
	var rows []statusCount
	if err := r.db.SelectContext(ctx, &rows, statusCountsQuery, userID); err != nil {
		return nil, err
	}
	stats := &ticket.Stats{ByStatus: make(map[string]int64, len(ticket.Statuses))}
	for _, s := range ticket.Statuses {
		stats.ByStatus[s] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Total
		stats.Total += row.Total
	}
	if err := r.db.GetContext(ctx, &stats.PendingApproval, pendingApprovalQuery, userID); err != nil {
		return nil, err
	}
	return stats, nil
}
