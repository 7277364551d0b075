package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"relaydesk/internal/domain/message"
	desk_errors "relaydesk/pkg/errors"

	"github.com/google/uuid"
)

const messageColumns = `id, conversation_id, sender_id, recipient_id, content, kind, status, provider_message_id, metadata, created_at, updated_at`

type PostgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		m          message.Message
		providerID sql.NullString
		metadata   []byte
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.RecipientID,
		&m.Content,
		&m.Kind,
		&m.Status,
		&providerID,
		&metadata,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, desk_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	if providerID.Valid {
		m.ProviderMessageID = &providerID.String
	}
	if len(metadata) > 0 {
		var meta message.Metadata
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return message.Message{}, err
		}
		m.Metadata = &meta
	}
	return m, nil
}

func (r *PostgresMessageRepository) Append(ctx context.Context, m *message.Message) error {
	now := time.Now().UTC()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt

	var metadata interface{}
	if !m.Metadata.IsZero() {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO messages (`+messageColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.RecipientID,
		m.Content,
		m.Kind,
		m.Status,
		m.ProviderMessageID,
		metadata,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return desk_errors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (r *PostgresMessageRepository) UpdateStatusByProviderID(ctx context.Context, providerID string, status message.Status) (bool, error) {
	if providerID == "" {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages
        SET status = $1, updated_at = $2
        WHERE provider_message_id = $3
    `, status, time.Now().UTC(), providerID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at ASC, id ASC
        LIMIT $2
    `, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
