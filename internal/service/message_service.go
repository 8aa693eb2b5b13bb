package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/access"
	"community-hub/internal/event"
	"community-hub/internal/model"
	"community-hub/internal/repository"
	"community-hub/pkg/crypto"
	logutil "community-hub/pkg/logger"
)

const MaxMessageRunes = 4000

// MessageService is the ordered per-channel message log. Content is stored
// through the codec and handed back to callers decrypted.
type MessageService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	levels      *LevelService
	codec       *crypto.Codec
	eventBus    *event.Bus
	logger      *zap.Logger
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	levels *LevelService,
	codec *crypto.Codec,
	eventBus *event.Bus,
	logger *zap.Logger,
) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codec == nil {
		codec = &crypto.Codec{}
	}
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		levels:      levels,
		codec:       codec,
		eventBus:    eventBus,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a new message from sender. The returned view carries the
// plaintext content and the sender's level after the posting XP award.
func (s *MessageService) Append(
	ctx context.Context,
	sender *model.User,
	channel *model.Channel,
	content string,
	replyTo *int64,
) (*model.MessageView, error) {
	if sender == nil {
		return nil, ErrAuthentication
	}
	if channel == nil {
		return nil, fmt.Errorf("append message: %w: channel", ErrNotFound)
	}
	if err := checkPostAllowed(sender, channel); err != nil {
		return nil, err
	}

	text, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if replyTo != nil {
		if err := s.checkReplyTarget(ctx, channel.ID, *replyTo); err != nil {
			return nil, err
		}
	}

	stored, err := s.codec.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	message := &model.Message{
		ChannelID: channel.ID,
		SenderID:  sender.ID,
		Content:   stored,
		Encrypted: s.codec.Enabled(),
		ReplyTo:   replyTo,
		CreatedAt: s.now(),
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, storageError("append message", err)
	}

	level := sender.CurrentLevel()
	if s.levels != nil {
		change, err := s.levels.AddXP(ctx, sender.ID, 1)
		if err != nil {
			s.logger.Warn("award posting xp failed",
				zap.String("user_id", sender.ID.String()),
				zap.Int64("message_id", message.ID),
				zap.Error(err),
			)
		} else {
			level = change.After.Level
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(event.EventMessageCreated, event.MessageCreatedPayload{
			MessageID: message.ID,
			ChannelID: channel.ID.String(),
			SenderID:  sender.ID.String(),
			Timestamp: message.CreatedAt,
		})
	}

	return &model.MessageView{
		ID:          message.ID,
		ChannelID:   message.ChannelID,
		SenderID:    sender.ID,
		SenderName:  sender.Username,
		SenderRole:  sender.Role,
		SenderLevel: level,
		Content:     text,
		ReplyTo:     message.ReplyTo,
		Timestamp:   message.CreatedAt,
	}, nil
}

// checkPostAllowed applies the mute flag, the readonly rule and the access
// evaluator, in that order.
func checkPostAllowed(sender *model.User, channel *model.Channel) error {
	if sender.Muted {
		return fmt.Errorf("post to %s: %w: sender is muted", channel.Name, ErrPermission)
	}
	if channel.Policy.Kind == model.PolicyReadOnly && !sender.IsAdmin() {
		return fmt.Errorf("post to %s: %w: channel is read-only", channel.Name, ErrPermission)
	}
	if !access.CanPost(sender, channel) {
		return fmt.Errorf("post to %s: %w", channel.Name, ErrPermission)
	}
	return nil
}

func normalizeContent(content string) (string, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return "", fmt.Errorf("message content: %w: empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", fmt.Errorf("message content: %w: longer than %d characters", ErrInvalidInput, MaxMessageRunes)
	}
	return text, nil
}

func (s *MessageService) checkReplyTarget(ctx context.Context, channelID uuid.UUID, replyTo int64) error {
	target, err := s.messageRepo.FindByID(ctx, replyTo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reply target %d: %w", replyTo, ErrInvalidInput)
		}
		return storageError("find reply target", err)
	}
	if target.ChannelID != channelID {
		return fmt.Errorf("reply target %d: %w: other channel", replyTo, ErrInvalidInput)
	}
	return nil
}

// ListOrdered returns the channel history sorted by timestamp, then id.
// Rows that fail to decrypt are kept with empty content and flagged.
func (s *MessageService) ListOrdered(ctx context.Context, channel *model.Channel) ([]model.MessageView, error) {
	if channel == nil {
		return nil, fmt.Errorf("list messages: %w: channel", ErrNotFound)
	}

	messages, err := s.messageRepo.ListByChannel(ctx, channel.ID)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	senders, err := s.loadSenders(ctx, messages)
	if err != nil {
		return nil, err
	}

	views := make([]model.MessageView, 0, len(messages))
	for _, message := range messages {
		view := model.MessageView{
			ID:          message.ID,
			ChannelID:   message.ChannelID,
			SenderID:    message.SenderID,
			SenderLevel: model.MinLevel,
			ReplyTo:     message.ReplyTo,
			Timestamp:   message.CreatedAt,
		}
		if sender, ok := senders[message.SenderID]; ok {
			view.SenderName = sender.Username
			view.SenderRole = sender.Role
			view.SenderLevel = sender.CurrentLevel()
		}

		content, err := s.readContent(message)
		if err != nil {
			s.logger.Warn("undecryptable message in history",
				zap.Int64("message_id", message.ID),
				zap.String("channel_id", message.ChannelID.String()),
				zap.String("payload_digest", logutil.PayloadDigest([]byte(message.Content))),
				zap.Error(err),
			)
			view.Undecryptable = true
		} else {
			view.Content = content
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *MessageService) loadSenders(ctx context.Context, messages []*model.Message) (map[uuid.UUID]*model.User, error) {
	if s.userRepo == nil || len(messages) == 0 {
		return map[uuid.UUID]*model.User{}, nil
	}
	seen := make(map[uuid.UUID]struct{}, len(messages))
	ids := make([]uuid.UUID, 0, len(messages))
	for _, message := range messages {
		if _, ok := seen[message.SenderID]; ok {
			continue
		}
		seen[message.SenderID] = struct{}{}
		ids = append(ids, message.SenderID)
	}
	senders, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, storageError("load message senders", err)
	}
	return senders, nil
}

// readContent honours the per-row flag so history written with encryption
// off stays readable after it is switched on, and the other way round.
func (s *MessageService) readContent(message *model.Message) (string, error) {
	if !message.Encrypted {
		return message.Content, nil
	}
	if !s.codec.Enabled() {
		return "", fmt.Errorf("%w: encrypted row with codec disabled", ErrCodec)
	}
	return s.codec.Decrypt(message.Content)
}

// Edit replaces the content of a message in channelID. It reports false when
// the message does not exist in that channel or the requester is neither its
// sender nor an admin.
func (s *MessageService) Edit(
	ctx context.Context,
	channelID uuid.UUID,
	messageID int64,
	content string,
	requester *model.User,
) (bool, error) {
	message, ok, err := s.loadForChange(ctx, channelID, messageID, requester)
	if err != nil || !ok {
		return false, err
	}

	text, err := normalizeContent(content)
	if err != nil {
		return false, err
	}
	stored, err := s.codec.Encrypt(text)
	if err != nil {
		return false, fmt.Errorf("edit message: %w", err)
	}

	if err := s.messageRepo.UpdateContent(ctx, message.ID, stored, s.codec.Enabled()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storageError("edit message", err)
	}
	return true, nil
}

// Delete removes a message in channelID under the same authority rule as Edit.
func (s *MessageService) Delete(ctx context.Context, channelID uuid.UUID, messageID int64, requester *model.User) (bool, error) {
	message, ok, err := s.loadForChange(ctx, channelID, messageID, requester)
	if err != nil || !ok {
		return false, err
	}
	return s.deleteMessage(ctx, message)
}

// Remove is the moderation delete: any message by id, admins only.
func (s *MessageService) Remove(ctx context.Context, messageID int64, requester *model.User) (bool, error) {
	if requester == nil || !requester.IsAdmin() {
		return false, nil
	}
	message, ok, err := s.loadForChange(ctx, uuid.Nil, messageID, requester)
	if err != nil || !ok {
		return false, err
	}
	removed, err := s.deleteMessage(ctx, message)
	if removed {
		s.logger.Info("message removed by admin",
			zap.Int64("message_id", message.ID),
			zap.String("channel_id", message.ChannelID.String()),
			zap.String("admin_id", requester.ID.String()),
		)
	}
	return removed, err
}

func (s *MessageService) deleteMessage(ctx context.Context, message *model.Message) (bool, error) {
	if err := s.messageRepo.Delete(ctx, message.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storageError("delete message", err)
	}
	return true, nil
}

// loadForChange finds the message and applies the authority rule. A non-nil
// channelID also requires the message to live in that channel.
func (s *MessageService) loadForChange(
	ctx context.Context,
	channelID uuid.UUID,
	messageID int64,
	requester *model.User,
) (*model.Message, bool, error) {
	if requester == nil {
		return nil, false, nil
	}
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, storageError("find message", err)
	}
	if channelID != uuid.Nil && message.ChannelID != channelID {
		return nil, false, nil
	}
	if message.SenderID != requester.ID && !requester.IsAdmin() {
		return nil, false, nil
	}
	return message, true, nil
}
