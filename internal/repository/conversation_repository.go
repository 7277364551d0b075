package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaydesk/internal/domain/conversation"
	desk_errors "relaydesk/pkg/errors"

	"github.com/google/uuid"
)

const conversationColumns = `id, customer_contact, customer_name, assigned_to, status, last_message_at, tags, notes, version, created_at, updated_at`

type PostgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func scanConversation(row rowScanner) (conversation.Conversation, error) {
	var (
		c          conversation.Conversation
		assignedTo sql.NullString
	)
	err := row.Scan(
		&c.ID,
		&c.CustomerContact,
		&c.CustomerName,
		&assignedTo,
		&c.Status,
		&c.LastMessageAt,
		&c.Tags,
		&c.Notes,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, desk_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	if assignedTo.Valid {
		c.AssignedTo = &assignedTo.String
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *PostgresConversationRepository) FindByContact(ctx context.Context, contact string) (conversation.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE customer_contact = $1`, contact)
	return scanConversation(row)
}

// FindOrCreate relies on the unique customer_contact constraint: the loser of
// a concurrent insert gets no row back and re-reads the winner's record.
func (r *PostgresConversationRepository) FindOrCreate(ctx context.Context, c conversation.Conversation) (conversation.Conversation, bool, error) {
	if c.CustomerContact == "" {
		return conversation.Conversation{}, false, fmt.Errorf("%w: customer contact is required", desk_errors.ErrInvalidInput)
	}
	if existing, err := r.FindByContact(ctx, c.CustomerContact); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, desk_errors.ErrNotFound) {
		return conversation.Conversation{}, false, err
	}

	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = conversation.StatusOpen
	}
	if c.Tags == nil {
		c.Tags = conversation.Tags{}
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = now
	}
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	row := r.db.QueryRowContext(ctx, `
        INSERT INTO conversations (`+conversationColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (customer_contact) DO NOTHING
        RETURNING `+conversationColumns,
		c.ID,
		c.CustomerContact,
		c.CustomerName,
		c.AssignedTo,
		c.Status,
		c.LastMessageAt,
		c.Tags,
		c.Notes,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	created, err := scanConversation(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, desk_errors.ErrNotFound) {
		return conversation.Conversation{}, false, err
	}

	existing, err := r.FindByContact(ctx, c.CustomerContact)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresConversationRepository) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) (conversation.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
        UPDATE conversations
        SET last_message_at = $1,
            status = CASE WHEN status = $2 THEN $3 ELSE status END,
            version = version + 1,
            updated_at = $1
        WHERE id = $4
        RETURNING `+conversationColumns,
		at, conversation.StatusClosed, conversation.StatusOpen, id)
	return scanConversation(row)
}

func (r *PostgresConversationRepository) UpdateFields(ctx context.Context, id uuid.UUID, patch conversation.Patch) (conversation.Conversation, error) {
	if err := patch.Validate(); err != nil {
		return conversation.Conversation{}, fmt.Errorf("%w: %v", desk_errors.ErrInvalidInput, err)
	}

	sets := []string{"version = version + 1", "updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ClearAssignee {
		add("assigned_to", nil)
	} else if patch.AssignedTo != nil {
		add("assigned_to", *patch.AssignedTo)
	}
	if patch.Tags != nil {
		add("tags", conversation.Tags(patch.Tags))
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if patch.ExpectedVersion != nil {
		args = append(args, *patch.ExpectedVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	row := r.db.QueryRowContext(ctx, `UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE `+where+` RETURNING `+conversationColumns, args...)
	updated, err := scanConversation(row)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, desk_errors.ErrNotFound) && patch.ExpectedVersion != nil {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return conversation.Conversation{}, desk_errors.ErrConflict
		}
	}
	return conversation.Conversation{}, err
}

func (r *PostgresConversationRepository) List(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, int64, error) {
	filter = filter.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conds = append(conds, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT `+conversationColumns+` FROM conversations%s ORDER BY last_message_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
