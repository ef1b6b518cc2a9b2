// Package leads announces distributed leads to downstream consumers.
package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

const (
	EventLeadAssigned     = "lead.assigned"
	envelopeVersion       = 1
	defaultPublishTimeout = 10 * time.Second
)

// LeadAssigned is published once per caterer that received a distributed request.
type LeadAssigned struct {
	EventRequestID uuid.UUID         `json:"eventRequestId"`
	MatchID        uuid.UUID         `json:"matchId"`
	CatererID      uuid.UUID         `json:"catererId"`
	Tier           enums.CatererTier `json:"tier"`
	City           string            `json:"city"`
	Score          int               `json:"score"`
	GuestCount     int               `json:"guestCount"`
	BudgetMax      decimal.Decimal   `json:"budgetMax"`
	Fallback       bool              `json:"fallback"`
	AssignedAt     time.Time         `json:"assignedAt"`
}

// Envelope is the stable message body on the leads topic.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Publisher announces lead assignments.
type Publisher interface {
	PublishAssigned(ctx context.Context, lead LeadAssigned) error
}

// NoopPublisher drops every event; used when lead events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishAssigned(context.Context, LeadAssigned) error { return nil }

type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// PubSubPublisher publishes lead events to a Pub/Sub topic and waits for the server ack.
type PubSubPublisher struct {
	pub     topicPublisher
	timeout time.Duration
	now     func() time.Time
}

// NewPubSubPublisher wraps a topic publisher such as pubsub.Client.LeadsPublisher().
func NewPubSubPublisher(p *gcppubsub.Publisher) (*PubSubPublisher, error) {
	if p == nil {
		return nil, errors.New("leads publisher not configured")
	}
	return newPubSubPublisher(&gcpPublisher{Publisher: p}), nil
}

func newPubSubPublisher(pub topicPublisher) *PubSubPublisher {
	return &PubSubPublisher{pub: pub, timeout: defaultPublishTimeout, now: time.Now}
}

func (p *PubSubPublisher) PublishAssigned(ctx context.Context, lead LeadAssigned) error {
	msg, err := p.message(lead)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for lead %s", lead.MatchID)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish lead %s: %w", lead.MatchID, err)
	}
	return nil
}

func (p *PubSubPublisher) message(lead LeadAssigned) (*gcppubsub.Message, error) {
	data, err := json.Marshal(lead)
	if err != nil {
		return nil, fmt.Errorf("marshal lead: %w", err)
	}
	envelope := Envelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		EventType:  EventLeadAssigned,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal lead envelope: %w", err)
	}
	return &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event_id":         envelope.EventID,
			"event_type":       EventLeadAssigned,
			"event_request_id": lead.EventRequestID.String(),
			"caterer_id":       lead.CatererID.String(),
			"tier":             string(lead.Tier),
			"occurred_at":      envelope.OccurredAt.Format(time.RFC3339Nano),
		},
	}, nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
