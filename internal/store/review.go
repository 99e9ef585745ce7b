package store

import (
	"context"
	"fmt"
	"time"

	"replypilot/internal/domain"
)

func (s *SQLiteStore) EnqueueReview(ctx context.Context, item domain.ReviewItem) (int64, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (run_id, message_id, platform, chat_id, reply_text, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.RunID, item.MessageID, item.Platform, item.ChatID, item.ReplyText,
		string(domain.ReviewPending), item.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) PendingReviews(ctx context.Context, limit int) ([]domain.ReviewItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, message_id, platform, chat_id, reply_text, status, created_at
		 FROM reviews WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(domain.ReviewPending), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ReviewItem
	for rows.Next() {
		var it domain.ReviewItem
		var status string
		if err := rows.Scan(&it.ID, &it.RunID, &it.MessageID, &it.Platform,
			&it.ChatID, &it.ReplyText, &status, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Status = domain.ReviewStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ResolveReview closes a pending item with the reviewer's verdict. Resolving
// an already resolved or unknown item is an error.
func (s *SQLiteStore) ResolveReview(ctx context.Context, action domain.ReviewAction) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews
		 SET status = ?, reviewed_by = ?, action = ?, final_text = ?, notes = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.ReviewResolved), action.ReviewedBy, action.Action,
		action.FinalText, action.Notes, now,
		action.ItemID, string(domain.ReviewPending),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("review %d is not pending", action.ItemID)
	}
	return nil
}
