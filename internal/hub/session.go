package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/access"
	"community-hub/internal/api/sanitize"
	"community-hub/internal/metrics"
	"community-hub/internal/model"
	"community-hub/internal/service"
	"community-hub/pkg/crypto"
	logutil "community-hub/pkg/logger"
)

// State is a step of the per-event chat pipeline.
type State string

const (
	StateReceived      State = "received"
	StateAuthenticated State = "authenticated"
	StateAuthorized    State = "authorized"
	StateDecoded       State = "decoded"
	StatePersisted     State = "persisted"
	StateBroadcast     State = "broadcast"
	StateFailed        State = "failed"
)

type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}

type ChannelDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Channel, error)
}

type MessageAppender interface {
	Append(ctx context.Context, sender *model.User, channel *model.Channel, content string, replyTo *int64) (*model.MessageView, error)
}

type FramePublisher interface {
	PublishFrame(frame OutboundFrame) (int, error)
}

// Outcome reports how far one chat event got. On failure State is
// StateFailed and FailedAt is the last state reached before it.
type Outcome struct {
	State    State
	FailedAt State
	Err      error
	Message  *model.MessageView
}

func (o Outcome) Succeeded() bool {
	return o.State == StateBroadcast
}

type chatRequest struct {
	requestID string
	userID    uuid.UUID
	channelID string
	payload   json.RawMessage
	legacy    bool
	// posted is set for events that arrive already decoded over HTTP.
	posted *ChatEvent
}

// ChatPipeline runs one inbound chat event from identity to fan-out. Both
// transport entry points feed the same process step.
type ChatPipeline struct {
	users     UserDirectory
	channels  ChannelDirectory
	store     MessageAppender
	codec     *crypto.Codec
	publisher FramePublisher
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewChatPipeline(
	users UserDirectory,
	channels ChannelDirectory,
	store MessageAppender,
	codec *crypto.Codec,
	publisher FramePublisher,
	logger *zap.Logger,
) *ChatPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codec == nil {
		codec = &crypto.Codec{}
	}
	return &ChatPipeline{
		users:     users,
		channels:  channels,
		store:     store,
		codec:     codec,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// HandleChannelEvent serves frames addressed by destination: the channel is
// frame.ChannelID and any channel inside the payload is ignored.
func (p *ChatPipeline) HandleChannelEvent(ctx context.Context, userID uuid.UUID, frame InboundFrame) Outcome {
	return p.process(ctx, chatRequest{
		requestID: frame.ID,
		userID:    userID,
		channelID: strings.TrimSpace(frame.ChannelID),
		payload:   frame.Payload,
	})
}

// HandleLegacyEvent serves frames that carry the channel inside the payload
// body.
func (p *ChatPipeline) HandleLegacyEvent(ctx context.Context, userID uuid.UUID, frame InboundFrame) Outcome {
	return p.process(ctx, chatRequest{
		requestID: frame.ID,
		userID:    userID,
		payload:   frame.Payload,
		legacy:    true,
	})
}

// HandlePostedEvent serves messages posted over HTTP. The caller gets the
// failure in the Outcome, so no notice goes to the user's error topic.
func (p *ChatPipeline) HandlePostedEvent(ctx context.Context, userID uuid.UUID, channelID string, event ChatEvent) Outcome {
	return p.process(ctx, chatRequest{
		requestID: uuid.NewString(),
		userID:    userID,
		channelID: strings.TrimSpace(channelID),
		posted:    &event,
	})
}

func (p *ChatPipeline) process(ctx context.Context, req chatRequest) Outcome {
	started := time.Now()
	defer func() {
		metrics.ObserveChatEventDuration(time.Since(started))
	}()

	outcome := Outcome{State: StateReceived}

	user, err := p.authenticate(ctx, req.userID)
	if err != nil {
		return p.fail(outcome, req, "", err)
	}
	outcome.State = StateAuthenticated

	var event *ChatEvent
	channelRef := req.channelID
	if req.legacy {
		event, err = p.decode(req.payload)
		if err != nil {
			return p.fail(outcome, req, "", err)
		}
		channelRef = event.ChannelID
	}

	channel, err := p.resolveChannel(ctx, channelRef)
	if err != nil {
		return p.fail(outcome, req, channelRef, err)
	}
	if !access.CanPost(user, channel) {
		err := fmt.Errorf("post to %s: %w", channel.Name, service.ErrPermission)
		return p.fail(outcome, req, channel.ID.String(), err)
	}
	outcome.State = StateAuthorized

	if event == nil {
		if req.posted != nil {
			event, err = p.prepare(*req.posted)
		} else {
			event, err = p.decode(req.payload)
		}
		if err != nil {
			return p.fail(outcome, req, channel.ID.String(), err)
		}
	}
	outcome.State = StateDecoded

	view, err := p.store.Append(ctx, user, channel, event.Content, event.ReplyTo)
	if err != nil {
		return p.fail(outcome, req, channel.ID.String(), err)
	}
	outcome.State = StatePersisted
	outcome.Message = view

	p.broadcast(channel, view, req.requestID)
	outcome.State = StateBroadcast
	return outcome
}

func (p *ChatPipeline) authenticate(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	if userID == uuid.Nil || p.users == nil {
		return nil, service.ErrAuthentication
	}
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", service.ErrAuthentication)
		}
		return nil, err
	}
	return user, nil
}

func (p *ChatPipeline) resolveChannel(ctx context.Context, ref string) (*model.Channel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: channel_id is required", service.ErrInvalidInput)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: channel_id is not a uuid", service.ErrInvalidInput)
	}
	return p.channels.GetByID(ctx, id)
}

// decode opens the transport payload, checks the event shape and strips any
// markup from the content.
func (p *ChatPipeline) decode(payload json.RawMessage) (*ChatEvent, error) {
	body, err := decodePayload(p.codec, payload)
	if err != nil {
		return nil, err
	}

	var event ChatEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: chat event is not valid json", crypto.ErrCodec)
	}
	return p.prepare(event)
}

func (p *ChatPipeline) prepare(event ChatEvent) (*ChatEvent, error) {
	event.ChannelID = strings.TrimSpace(event.ChannelID)
	if err := p.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %s", service.ErrInvalidInput, describeValidation(err))
	}

	event.Content = sanitize.ChatText(event.Content)
	if event.Content == "" {
		return nil, fmt.Errorf("%w: content is empty", service.ErrInvalidInput)
	}
	return &event, nil
}

func (p *ChatPipeline) broadcast(channel *model.Channel, view *model.MessageView, requestID string) {
	payload, err := encodePayload(p.codec, view)
	if err != nil {
		p.logger.Error("encode chat broadcast failed",
			zap.Int64("message_id", view.ID),
			zap.String("channel_id", channel.ID.String()),
			zap.Error(err),
		)
		return
	}

	if p.publisher == nil {
		return
	}
	delivered, err := p.publisher.PublishFrame(OutboundFrame{
		Type:    ChatMessage,
		ID:      requestID,
		Topic:   channel.Topic(),
		Payload: payload,
	})
	if err != nil {
		p.logger.Warn("publish chat message failed",
			zap.Int64("message_id", view.ID),
			zap.String("channel_id", channel.ID.String()),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("chat message broadcast",
		zap.Int64("message_id", view.ID),
		zap.String("channel_id", channel.ID.String()),
		zap.Int("delivered", delivered),
	)
}

func (p *ChatPipeline) fail(outcome Outcome, req chatRequest, channelID string, err error) Outcome {
	outcome.FailedAt = outcome.State
	outcome.State = StateFailed
	outcome.Err = err

	if errors.Is(err, service.ErrAuthentication) {
		metrics.IncChatEventFailed("unauthenticated")
		p.logger.Debug("dropping chat event from unauthenticated connection",
			zap.String("request_id", req.requestID),
		)
		return outcome
	}

	code := noticeCode(err)
	metrics.IncChatEventFailed(code)

	fields := []zap.Field{
		zap.String("user_id", req.userID.String()),
		zap.String("request_id", req.requestID),
		zap.String("channel_id", channelID),
		zap.String("failed_at", string(outcome.FailedAt)),
		zap.Error(err),
	}
	if code == NoticeBadPayload {
		fields = append(fields, zap.String("payload_digest", logutil.PayloadDigest(req.payload)))
	}
	p.logger.Info("chat event rejected", fields...)

	if req.posted != nil {
		return outcome
	}
	p.notify(req.userID, ErrorNotice{
		Code:      code,
		Message:   noticeMessage(code, err),
		RequestID: req.requestID,
		ChannelID: channelID,
	})
	return outcome
}

// notify sends a private notice on the user's error topic.
func (p *ChatPipeline) notify(userID uuid.UUID, notice ErrorNotice) {
	if p.publisher == nil || userID == uuid.Nil {
		return
	}
	raw, err := json.Marshal(notice)
	if err != nil {
		return
	}
	if _, err := p.publisher.PublishFrame(OutboundFrame{
		Type:    Error,
		Topic:   model.UserErrorTopic(userID.String()),
		Payload: raw,
	}); err != nil {
		p.logger.Warn("publish error notice failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func noticeCode(err error) string {
	switch {
	case errors.Is(err, service.ErrPermission):
		return NoticeForbidden
	case errors.Is(err, crypto.ErrCodec):
		return NoticeBadPayload
	case errors.Is(err, service.ErrNotFound):
		return NoticeNotFound
	case errors.Is(err, service.ErrInvalidInput):
		return NoticeInvalid
	default:
		return NoticeStorage
	}
}

func noticeMessage(code string, err error) string {
	switch code {
	case NoticeBadPayload:
		return "payload could not be decoded"
	case NoticeStorage:
		return "message was not stored, please retry"
	default:
		return err.Error()
	}
}

func describeValidation(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err.Error()
	}
	first := fieldErrors[0]
	return fmt.Sprintf("%s failed %s", strings.ToLower(first.Field()), first.Tag())
}
