package repository

import "context"

// Stores groups the repositories that take part in one unit of work.
type Stores struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Outbox        OutboxRepository
}

// Transactor runs fn against stores that commit or roll back together, so
// an outbox row is written only alongside the change it describes.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

type sqlTransactor struct {
	db DBTX
}

func NewTransactor(db DBTX) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return WithTx(ctx, t.db, func(tx DBTX) error {
		return fn(Stores{
			Conversations: NewConversationRepository(tx),
			Messages:      NewMessageRepository(tx),
			Outbox:        NewOutboxRepository(tx),
		})
	})
}

type directTransactor struct {
	stores Stores
}

// DirectTransactor hands fn the given stores unchanged. Used with the
// in-memory stores, where each write applies immediately.
func DirectTransactor(stores Stores) Transactor {
	return directTransactor{stores: stores}
}

func (t directTransactor) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return fn(t.stores)
}
