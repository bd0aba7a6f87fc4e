package repository

import (
	"context"
	"fmt"
	"strings"

	"fuelops/internal/domain"
)

func (r *Repository) LogAction(ctx context.Context, tenantID, actionType, title, details string, actor *string) error {
	actionType = strings.TrimSpace(actionType)
	title = strings.TrimSpace(title)
	if actionType == "" || title == "" {
		return domain.Validationf("action_type and title are required")
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO actions (tenant_id, action_type, title, details, actor)
		VALUES ($1, $2, $3, $4, $5)
	`, tenantID, actionType, title, details, actor); err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

func (r *Repository) ListActions(ctx context.Context, tenantID string, limit, offset int, search string) ([]domain.ActionEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	search = strings.TrimSpace(search)

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, action_type, title, details, actor, created_at
		FROM actions
		WHERE tenant_id = $1
		  AND ($2 = '' OR title ILIKE '%' || $2 || '%' OR details ILIKE '%' || $2 || '%')
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, tenantID, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ActionEntry, 0, limit)
	for rows.Next() {
		var entry domain.ActionEntry
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.ActionType, &entry.Title,
			&entry.Details, &entry.Actor, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return items, nil
}
