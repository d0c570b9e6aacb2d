package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// Store is the persistence surface the tracker needs. AdvanceWatermark must
// be monotonic: a party's last-read timestamp never moves backward.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	CountUnread(ctx context.Context, conversationID string, after time.Time, excludeSender string) (int, error)
	AdvanceWatermark(ctx context.Context, conversationID string, party models.Role, now time.Time) (*models.Conversation, error)
}

// Tracker computes per-party unread counts from last-read watermarks and
// relays live messages to connected sockets.
type Tracker struct {
	Store    Store
	Registry *Registry
	Now      func() time.Time
}

func NewTracker(store Store, reg *Registry) *Tracker {
	return &Tracker{Store: store, Registry: reg, Now: time.Now}
}

// party resolves which side of the conversation the viewer is, or Forbidden.
func party(c *models.Conversation, viewer models.Identity) (models.Role, error) {
	switch viewer.AccountID {
	case c.DriverID:
		return models.RoleDriver, nil
	case c.RiderID:
		return models.RoleRider, nil
	}
	if viewer.Role == models.RoleAdmin {
		return models.RoleDriver, nil
	}
	return "", faults.New(faults.Forbidden, "not a party to this conversation")
}

// UnreadCount counts messages sent by the other party after the viewer's
// watermark. A never-read party falls back to the conversation creation time.
func (t *Tracker) UnreadCount(ctx context.Context, conversationID string, viewer models.Identity) (int, error) {
	c, err := t.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	side, err := party(c, viewer)
	if err != nil {
		return 0, err
	}
	watermark := c.CreatedAt
	if side == models.RoleDriver && c.DriverLastReadAt != nil {
		watermark = *c.DriverLastReadAt
	}
	if side == models.RoleRider && c.RiderLastReadAt != nil {
		watermark = *c.RiderLastReadAt
	}
	return t.Store.CountUnread(ctx, conversationID, watermark, viewer.AccountID)
}

// MarkRead advances the viewer's watermark to now.
func (t *Tracker) MarkRead(ctx context.Context, conversationID string, viewer models.Identity) (*models.Conversation, error) {
	c, err := t.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	side, err := party(c, viewer)
	if err != nil {
		return nil, err
	}
	return t.Store.AdvanceWatermark(ctx, conversationID, side, t.Now())
}

// Post persists a message and fans it out to the other party's socket if one
// is connected. Delivery is best effort; persistence is the source of truth.
func (t *Tracker) Post(ctx context.Context, conversationID string, viewer models.Identity, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, faults.New(faults.Validation, "message body is empty")
	}
	c, err := t.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := party(c, viewer); err != nil {
		return nil, err
	}
	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       viewer.AccountID,
		Body:           body,
		CreatedAt:      t.Now(),
	}
	if err := t.Store.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	if t.Registry != nil {
		t.Registry.Broadcast(conversationID, viewer.AccountID, *m)
	}
	return m, nil
}

// History returns the most recent messages in chronological order.
func (t *Tracker) History(ctx context.Context, conversationID string, viewer models.Identity, limit int) ([]models.Message, error) {
	c, err := t.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := party(c, viewer); err != nil {
		return nil, err
	}
	return t.Store.ListMessages(ctx, conversationID, limit)
}
