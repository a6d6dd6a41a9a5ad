package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sakani/sakani_backend/attachments"
	"github.com/sakani/sakani_backend/cache"
	"github.com/sakani/sakani_backend/database"
	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/metrics"
	"github.com/sakani/sakani_backend/models"
	"go.uber.org/zap"
)

var validate = validator.New()

const (
	SourceREST    = "rest"
	SourceChannel = "channel"
)

type MessageStore interface {
	Persist(ctx context.Context, msg models.Message) (models.Message, error)
	History(ctx context.Context, a, b, excludeHiddenFor string, page database.Page) ([]models.Message, error)
	CountConversation(ctx context.Context, a, b string) (int64, error)
	CountUnread(ctx context.Context, from, to string) (int64, error)
	CountUnreadFor(ctx context.Context, reader string) (int64, error)
	MarkRead(ctx context.Context, reader, other string) (int64, error)
	HideConversation(ctx context.Context, user, other string) (int64, error)
}

type Broadcaster interface {
	Broadcast(room string, ev models.Event) int
}

// IngestInput is the raw message as received from either entry path.
type IngestInput struct {
	SenderID       string `validate:"required,max=64"`
	ReceiverID     string `validate:"required,max=64"`
	Body           string `validate:"max=4000"`
	AttachmentRef  string `validate:"max=512"`
	AttachmentKind models.AttachmentKind
	// Source labels the entry path for metrics only; it never reaches the record.
	Source string `validate:"-"`
}

type ChatService struct {
	store       MessageStore
	broadcaster Broadcaster
	cache       cache.Cache
	cacheTTL    time.Duration
}

func NewChatService(store MessageStore, broadcaster Broadcaster, c cache.Cache, cacheTTL time.Duration) *ChatService {
	if c == nil {
		c = cache.Noop{}
	}
	return &ChatService{store: store, broadcaster: broadcaster, cache: c, cacheTTL: cacheTTL}
}

// Ingest is the only writer of new messages. Both entry paths call it so that
// defaulting and validation exist exactly once.
func (s *ChatService) Ingest(ctx context.Context, in IngestInput) (models.Message, error) {
	msg, err := normalize(in)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("validation").Inc()
		return models.Message{}, err
	}

	saved, err := s.store.Persist(ctx, msg)
	if err != nil {
		metrics.IngestFailures.WithLabelValues("persistence").Inc()
		logger.Log.Error("message_persist_failed",
			zap.String("sender", msg.SenderID),
			zap.String("receiver", msg.ReceiverID),
			zap.Error(err))
		return models.Message{}, fmt.Errorf("%w: save message: %v", ErrPersistence, err)
	}

	source := in.Source
	if source == "" {
		source = SourceREST
	}
	metrics.MessagesIngested.WithLabelValues(source).Inc()
	logger.Log.Debug("message_saved",
		zap.String("id", saved.ID),
		zap.String("source", source),
		zap.String("kind", string(saved.AttachmentKind)))

	s.invalidateUnread(ctx, saved.ReceiverID, saved.SenderID)
	return saved, nil
}

// Send ingests a message and pushes the canonical record to the conversation room.
// A failed ingestion is never broadcast; delivery problems never fail a stored message.
func (s *ChatService) Send(ctx context.Context, in IngestInput) (models.Message, error) {
	saved, err := s.Ingest(ctx, in)
	if err != nil {
		return models.Message{}, err
	}
	s.broadcaster.Broadcast(models.RoomID(saved.SenderID, saved.ReceiverID), models.MessageReceived(saved))
	return saved, nil
}

// History returns the conversation as seen by userID, oldest first.
func (s *ChatService) History(ctx context.Context, userID, otherID string, page database.Page) ([]models.Message, error) {
	if err := requireIDs(userID, otherID); err != nil {
		return nil, err
	}
	msgs, err := s.store.History(ctx, userID, otherID, userID, page)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// DeleteConversation hides the whole conversation for userID only.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, otherID string) (int64, error) {
	if err := requireIDs(userID, otherID); err != nil {
		return 0, err
	}
	total, err := s.store.CountConversation(ctx, userID, otherID)
	if err != nil {
		return 0, fmt.Errorf("%w: count conversation: %v", ErrPersistence, err)
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: no conversation between %s and %s", ErrNotFound, userID, otherID)
	}

	n, err := s.store.HideConversation(ctx, userID, otherID)
	if err != nil {
		return 0, fmt.Errorf("%w: hide conversation: %v", ErrPersistence, err)
	}
	logger.Log.Info("chat_hidden_for_user",
		zap.String("user", userID),
		zap.String("other", otherID),
		zap.Int64("hidden", n))
	return n, nil
}

// MarkRead flips every unread message other -> reader and notifies the room.
// Calling it again once everything is read is a successful no-op.
func (s *ChatService) MarkRead(ctx context.Context, reader, other string) (int64, error) {
	if err := requireIDs(reader, other); err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(ctx, reader, other)
	if err != nil {
		return 0, fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
	}
	s.invalidateUnread(ctx, reader, other)

	room := models.RoomID(reader, other)
	s.broadcaster.Broadcast(room, models.ReadStateChanged(reader, other, room))
	logger.Log.Debug("messages_marked_read",
		zap.String("reader", reader),
		zap.String("other", other),
		zap.Int64("affected", n))
	return n, nil
}

// UnreadCount is the number of unread messages other -> reader.
func (s *ChatService) UnreadCount(ctx context.Context, reader, other string) (int64, error) {
	if err := requireIDs(reader, other); err != nil {
		return 0, err
	}
	return s.cachedCount(ctx, unreadKey(reader, other), func() (int64, error) {
		return s.store.CountUnread(ctx, other, reader)
	})
}

// UnreadTotal is the number of unread messages addressed to reader from anyone.
func (s *ChatService) UnreadTotal(ctx context.Context, reader string) (int64, error) {
	if err := requireIDs(reader); err != nil {
		return 0, err
	}
	return s.cachedCount(ctx, unreadTotalKey(reader), func() (int64, error) {
		return s.store.CountUnreadFor(ctx, reader)
	})
}

// UnreadBacklog counts unread messages across all conversations.
func (s *ChatService) UnreadBacklog(ctx context.Context) (int64, error) {
	n, err := s.store.CountUnreadFor(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("%w: count backlog: %v", ErrPersistence, err)
	}
	return n, nil
}

func (s *ChatService) cachedCount(ctx context.Context, key string, load func() (int64, error)) (int64, error) {
	if v, err := s.cache.Get(ctx, key); err == nil {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		logger.Log.Warn("unread_cache_get_failed", zap.String("key", key), zap.Error(err))
	}

	n, err := load()
	if err != nil {
		return 0, fmt.Errorf("%w: count unread: %v", ErrPersistence, err)
	}
	if err := s.cache.Set(ctx, key, strconv.FormatInt(n, 10), s.cacheTTL); err != nil {
		logger.Log.Warn("unread_cache_set_failed", zap.String("key", key), zap.Error(err))
	}
	return n, nil
}

func (s *ChatService) invalidateUnread(ctx context.Context, reader, other string) {
	if err := s.cache.Del(ctx, unreadKey(reader, other), unreadTotalKey(reader)); err != nil {
		logger.Log.Warn("unread_cache_del_failed", zap.String("reader", reader), zap.Error(err))
	}
}

func unreadKey(reader, other string) string {
	return "chat:unread:" + reader + ":" + other
}

func unreadTotalKey(reader string) string {
	return "chat:unread:" + reader
}

func normalize(in IngestInput) (models.Message, error) {
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.ReceiverID = strings.TrimSpace(in.ReceiverID)
	in.AttachmentRef = attachments.NormalizeRef(in.AttachmentRef)
	kind := models.AttachmentKind(strings.ToLower(strings.TrimSpace(string(in.AttachmentKind))))

	if err := validate.Struct(in); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if kind != "" && !kind.Valid() {
		return models.Message{}, fmt.Errorf("%w: unknown attachment kind %q", ErrValidation, kind)
	}

	switch {
	case in.AttachmentRef == "":
		kind = models.AttachmentNone
	case kind == "" || kind == models.AttachmentNone:
		kind = attachments.KindForRef(in.AttachmentRef)
	}

	if in.Body == "" && in.AttachmentRef == "" {
		return models.Message{}, fmt.Errorf("%w: message must carry a body or an attachment", ErrValidation)
	}

	return models.Message{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Body:           in.Body,
		AttachmentRef:  in.AttachmentRef,
		AttachmentKind: kind,
		Read:           false,
	}, nil
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if err := validate.Var(strings.TrimSpace(id), "required,max=64"); err != nil {
			return fmt.Errorf("%w: missing or invalid user id", ErrValidation)
		}
	}
	return nil
}
