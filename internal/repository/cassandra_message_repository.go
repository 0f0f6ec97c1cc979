package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
)

// CassandraSchema creates the message table. Message IDs are ULIDs, so the
// text clustering key sorts in persistence order.
const CassandraSchema = `
CREATE TABLE IF NOT EXISTS messages_by_room (
	room_id     text,
	message_id  text,
	sender_id   text,
	sender_name text,
	body        text,
	kind        text,
	created_at  timestamp,
	PRIMARY KEY ((room_id), message_id)
) WITH CLUSTERING ORDER BY (message_id DESC)`

// CassandraMessageRepository stores messages in Cassandra. Inserts are
// upserts on the primary key, so retries never duplicate a message.
type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(session *gocql.Session) *CassandraMessageRepository {
	return &CassandraMessageRepository{session: session}
}

// EnsureSchema creates the message table if it does not exist.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(CassandraSchema).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages_by_room (
			room_id, message_id, sender_id, sender_name, body, kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := r.session.Query(query,
		msg.RoomID,
		msg.ID,
		msg.SenderID,
		msg.SenderName,
		msg.Body,
		string(msg.Kind),
		msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	query := `SELECT message_id, sender_id, sender_name, body, kind, created_at
			  FROM messages_by_room
			  WHERE room_id = ?
			  ORDER BY message_id DESC
			  LIMIT ?`

	iter := r.session.Query(query, roomID, limit).WithContext(ctx).Iter()

	var (
		newestFirst []domain.Message
		msg         domain.Message
		kind        string
		createdAt   time.Time
	)
	for iter.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Body, &kind, &createdAt) {
		msg.RoomID = roomID
		msg.Kind = domain.MessageKind(kind)
		msg.CreatedAt = createdAt.UTC()
		newestFirst = append(newestFirst, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	out := make([]domain.Message, len(newestFirst))
	for i := range newestFirst {
		out[len(newestFirst)-1-i] = newestFirst[i]
	}
	return out, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}
