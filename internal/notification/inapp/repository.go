// Package inapp persists agent-facing notifications raised by the automation
// engine and answers the alert lookups used for SLA and first-contact dedupe.
package inapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate       = "notification.inapp.repository.create"
	opRecentAlerts = "notification.inapp.repository.recent_alerts"
	opList         = "notification.inapp.repository.list"
	opMarkRead     = "notification.inapp.repository.mark_read"

	errRepoNotConfigured = "in-app notification repository not configured"
)

type Notification struct {
	ID               uuid.UUID  `json:"id"`
	LeadID           *uuid.UUID `json:"leadId,omitempty"`
	RecipientAgentID uuid.UUID  `json:"recipientAgentId"`
	AlertType        string     `json:"alertType"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	Category         string     `json:"category"`
	IsRead           bool       `json:"isRead"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a notification inside the caller's transaction.
func Create(ctx context.Context, q db.Querier, e domain.NotificationEffect) (uuid.UUID, error) {
	if e.RecipientAgentID == uuid.Nil {
		return uuid.Nil, apperr.Validation("recipientAgentId is required").WithOp(opCreate)
	}
	if e.Title == "" || e.Content == "" || e.AlertType == "" {
		return uuid.Nil, apperr.Validation("alertType, title and content are required").WithOp(opCreate)
	}

	category := e.Category
	if category == "" {
		category = "info"
	}
	var leadID *uuid.UUID
	if e.LeadID != uuid.Nil {
		leadID = &e.LeadID
	}

	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO notifications (lead_id, recipient_agent_id, alert_type, title, content, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, leadID, e.RecipientAgentID, e.AlertType, e.Title, e.Content, category).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return uuid.Nil, apperr.Validation("invalid leadId or recipientAgentId").WithOp(opCreate)
		}
		return uuid.Nil, apperr.Upstream("create notification failed", err).WithOp(opCreate)
	}
	return id, nil
}

// RecentAlerts returns, per lead, the alert types notified at or after since.
func (r *Repository) RecentAlerts(ctx context.Context, leadIDs []uuid.UUID, alertTypes []string, since time.Time) (map[uuid.UUID]map[string]bool, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opRecentAlerts)
	}
	result := make(map[uuid.UUID]map[string]bool)
	if len(leadIDs) == 0 || len(alertTypes) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT lead_id, alert_type
		FROM notifications
		WHERE lead_id = ANY($1) AND alert_type = ANY($2) AND created_at >= $3
	`, leadIDs, alertTypes, since)
	if err != nil {
		return nil, apperr.Upstream("recent alerts query failed", err).WithOp(opRecentAlerts)
	}
	defer rows.Close()

	for rows.Next() {
		var leadID uuid.UUID
		var alertType string
		if scanErr := rows.Scan(&leadID, &alertType); scanErr != nil {
			return nil, apperr.Upstream("scan recent alerts failed", scanErr).WithOp(opRecentAlerts)
		}
		if result[leadID] == nil {
			result[leadID] = make(map[string]bool)
		}
		result[leadID][alertType] = true
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Upstream("iterate recent alerts failed", rowsErr).WithOp(opRecentAlerts)
	}
	return result, nil
}

// ListForAgent returns the newest notifications addressed to one agent.
func (r *Repository) ListForAgent(ctx context.Context, agentID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	if r == nil || r.pool == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opList)
	}
	if agentID == uuid.Nil {
		return nil, apperr.Validation("agentId is required").WithOp(opList)
	}
	if limit < 1 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, recipient_agent_id, alert_type, title, content, category, is_read, created_at
		FROM notifications
		WHERE recipient_agent_id = $1 AND (NOT $2 OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, agentID, unreadOnly, limit)
	if err != nil {
		return nil, apperr.Upstream("list notifications query failed", err).WithOp(opList)
	}
	defer rows.Close()

	items := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if scanErr := rows.Scan(&n.ID, &n.LeadID, &n.RecipientAgentID, &n.AlertType, &n.Title, &n.Content, &n.Category, &n.IsRead, &n.CreatedAt); scanErr != nil {
			return nil, apperr.Internal(fmt.Sprintf("scan notifications failed: %v", scanErr)).WithOp(opList)
		}
		items = append(items, n)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperr.Internal(fmt.Sprintf("iterate notifications failed: %v", rowsErr)).WithOp(opList)
	}
	return items, nil
}

func (r *Repository) MarkRead(ctx context.Context, agentID, notificationID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opMarkRead)
	}
	if agentID == uuid.Nil || notificationID == uuid.Nil {
		return apperr.Validation("agentId and notificationId are required").WithOp(opMarkRead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = now()
		WHERE id = $1 AND recipient_agent_id = $2
	`, notificationID, agentID)
	if err != nil {
		return apperr.Upstream("mark notification read failed", err).WithOp(opMarkRead)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification not found").WithOp(opMarkRead)
	}
	return nil
}
