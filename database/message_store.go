package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakani/sakani_backend/models"
	"gorm.io/gorm"
)

const conversationPredicate = "((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))"

// Page limits a history query. A zero Limit returns the whole conversation.
type Page struct {
	Limit  int
	Offset int
}

// MessageStore is the durable source of truth for chat history, read state and
// per-user visibility. Every mutation is a single predicate statement, so concurrent
// callers never overwrite each other with stale snapshots.
type MessageStore struct {
	db *gorm.DB

	clockMu sync.Mutex
	last    time.Time
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// now returns a UTC timestamp that never goes backwards across calls.
func (s *MessageStore) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := time.Now().UTC().Truncate(time.Microsecond)
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

// Persist assigns the id and timestamp and writes msg in one insert.
func (s *MessageStore) Persist(ctx context.Context, msg models.Message) (models.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, fmt.Errorf("generate message id: %w", err)
	}
	msg.ID = id.String()
	msg.CreatedAt = s.now()
	msg.HiddenFor = nil

	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// History returns the conversation between a and b ordered by creation time,
// skipping messages hidden for excludeHiddenFor when it is non-empty.
func (s *MessageStore) History(ctx context.Context, a, b, excludeHiddenFor string, page Page) ([]models.Message, error) {
	q := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where(conversationPredicate, a, b, b, a)

	if excludeHiddenFor != "" {
		q = q.Where("NOT EXISTS (SELECT 1 FROM message_hides h WHERE h.message_id = messages.id AND h.user_id = ?)", excludeHiddenFor)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit).Offset(page.Offset)
	}

	messages := make([]models.Message, 0)
	if err := q.Order("created_at asc").Order("id asc").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// CountConversation counts every stored message of the pair, hidden or not.
func (s *MessageStore) CountConversation(ctx context.Context, a, b string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where(conversationPredicate, a, b, b, a).
		Count(&n).Error
	return n, err
}

// CountUnread counts unread messages sent from -> to.
func (s *MessageStore) CountUnread(ctx context.Context, from, to string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", from, to, false).
		Count(&n).Error
	return n, err
}

// CountUnreadFor counts every unread message addressed to reader.
// An empty reader counts the unread backlog of the whole store.
func (s *MessageStore) CountUnreadFor(ctx context.Context, reader string) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.Message{}).Where("is_read = ?", false)
	if reader != "" {
		q = q.Where("receiver_id = ?", reader)
	}
	err := q.Count(&n).Error
	return n, err
}

// MarkRead flips every unread message other -> reader to read and reports how many changed.
func (s *MessageStore) MarkRead(ctx context.Context, reader, other string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", other, reader, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// HideConversation adds user to the hidden-for set of every message of the pair.
// Messages already hidden for user are left alone, so the call is idempotent.
func (s *MessageStore) HideConversation(ctx context.Context, user, other string) (int64, error) {
	insert := "INSERT INTO message_hides (message_id, user_id, created_at) "
	conflict := " ON CONFLICT DO NOTHING"
	if s.db.Dialector.Name() == "mysql" {
		insert = "INSERT IGNORE INTO message_hides (message_id, user_id, created_at) "
		conflict = ""
	}

	res := s.db.WithContext(ctx).Exec(
		insert+"SELECT m.id, ?, ? FROM messages m WHERE "+
			"((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))"+conflict,
		user, s.now(), user, other, other, user,
	)
	return res.RowsAffected, res.Error
}

// HiddenFor loads the hidden-for set of a single message.
func (s *MessageStore) HiddenFor(ctx context.Context, messageID string) ([]string, error) {
	users := make([]string, 0)
	err := s.db.WithContext(ctx).
		Model(&models.MessageHide{}).
		Where("message_id = ?", messageID).
		Order("user_id asc").
		Pluck("user_id", &users).Error
	return users, err
}
