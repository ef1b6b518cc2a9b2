package leads

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catermatch-backend/pkg/enums"
)

type fakeTopic struct {
	messages []*gcppubsub.Message
	result   publishResult
}

func (f *fakeTopic) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	return f.result
}

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

func sampleLead() LeadAssigned {
	return LeadAssigned{
		EventRequestID: uuid.New(),
		MatchID:        uuid.New(),
		CatererID:      uuid.New(),
		Tier:           enums.CatererTierPro,
		City:           "Austin",
		Score:          82,
		GuestCount:     120,
		BudgetMax:      decimal.NewFromInt(6000),
		AssignedAt:     time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublishAssignedEnvelope(t *testing.T) {
	topic := &fakeTopic{result: fakeResult{id: "msg-1"}}
	pub := newPubSubPublisher(topic)
	pub.now = func() time.Time { return time.Date(2024, 6, 10, 9, 0, 1, 0, time.UTC) }
	lead := sampleLead()

	require.NoError(t, pub.PublishAssigned(context.Background(), lead))
	require.Len(t, topic.messages, 1)

	msg := topic.messages[0]
	require.Equal(t, EventLeadAssigned, msg.Attributes["event_type"])
	require.Equal(t, lead.CatererID.String(), msg.Attributes["caterer_id"])
	require.Equal(t, "pro", msg.Attributes["tier"])

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	require.Equal(t, envelopeVersion, env.Version)
	require.Equal(t, msg.Attributes["event_id"], env.EventID)

	var data LeadAssigned
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, lead.MatchID, data.MatchID)
	require.True(t, lead.BudgetMax.Equal(data.BudgetMax))
	require.Equal(t, 82, data.Score)
}

func TestPublishAssignedPropagatesAckFailure(t *testing.T) {
	topic := &fakeTopic{result: fakeResult{err: errors.New("unavailable")}}
	err := newPubSubPublisher(topic).PublishAssigned(context.Background(), sampleLead())
	require.ErrorContains(t, err, "unavailable")
}

func TestPublishAssignedNilResult(t *testing.T) {
	err := newPubSubPublisher(&fakeTopic{}).PublishAssigned(context.Background(), sampleLead())
	require.Error(t, err)
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	_, err := NewPubSubPublisher(nil)
	require.Error(t, err)
	require.NoError(t, NoopPublisher{}.PublishAssigned(context.Background(), sampleLead()))
}
