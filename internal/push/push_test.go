package push

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carehq/internal/subscriptions"
)

// MockSubscriptionStore implements SubscriptionStore for testing.
type MockSubscriptionStore struct {
	mu      sync.Mutex
	records map[string]subscriptions.Record
	listErr error
}

func NewMockSubscriptionStore() *MockSubscriptionStore {
	return &MockSubscriptionStore{records: make(map[string]subscriptions.Record)}
}

func (m *MockSubscriptionStore) Get(ctx context.Context, userID string) (*subscriptions.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, subscriptions.ErrNotFound
	}
	return &rec, nil
}

func (m *MockSubscriptionStore) List(ctx context.Context) ([]subscriptions.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []subscriptions.Record
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MockSubscriptionStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

func (m *MockSubscriptionStore) add(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = subscriptions.Record{
		UserID:   userID,
		Endpoint: "https://push.example/" + userID,
		P256dh:   "key",
		Auth:     "auth",
	}
}

func (m *MockSubscriptionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// MockSender records deliveries and fails selected users.
type MockSender struct {
	mu       sync.Mutex
	sent     map[string][]byte
	failWith map[string]error
}

func NewMockSender() *MockSender {
	return &MockSender{sent: make(map[string][]byte), failWith: make(map[string]error)}
}

func (s *MockSender) Send(ctx context.Context, rec subscriptions.Record, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failWith[rec.UserID]; ok {
		return err
	}
	s.sent[rec.UserID] = payload
	return nil
}

func (s *MockSender) sentTo(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[userID]
	return ok
}

func newTestDispatcher(subs SubscriptionStore, sender Sender) *Dispatcher {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	cfg := DefaultConfig()
	cfg.RatePerSecond = 10000
	cfg.Burst = 10000
	return NewDispatcher(subs, sender, cfg, nil, &logger)
}

func TestSendToUserNotFound(t *testing.T) {
	subs := NewMockSubscriptionStore()
	sender := NewMockSender()
	d := newTestDispatcher(subs, sender)

	err := d.SendToUser(context.Background(), "nobody", Message{Title: "hi"})
	assert.ErrorIs(t, err, ErrNoSubscription)
	assert.Empty(t, sender.sent, "nothing must be sent on not-found")
}

func TestSendToUserDeliversPayload(t *testing.T) {
	subs := NewMockSubscriptionStore()
	subs.add("u1")
	sender := NewMockSender()
	d := newTestDispatcher(subs, sender)

	msg := Message{Title: "Bill due", Body: "$185.00", Data: map[string]any{"k": "v"}}
	require.NoError(t, d.SendToUser(context.Background(), "u1", msg))

	var got Message
	require.NoError(t, json.Unmarshal(sender.sent["u1"], &got))
	assert.Equal(t, "Bill due", got.Title)
	assert.Equal(t, "$185.00", got.Body)
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	subs := NewMockSubscriptionStore()
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		subs.add(id)
	}
	sender := NewMockSender()
	sender.failWith["u3"] = errors.New("boom")
	d := newTestDispatcher(subs, sender)

	result, err := d.Broadcast(context.Background(), DailyMessage(time.Now()))
	require.NoError(t, err, "a single failed delivery must not fail the broadcast")

	assert.Equal(t, 5, result.Attempted, "attempted counts every enumerated subscription")
	assert.Equal(t, 1, result.Failed())
	for _, id := range []string{"u1", "u2", "u4", "u5"} {
		assert.True(t, sender.sentTo(id), "delivery to %s must still be attempted", id)
	}
	assert.False(t, sender.sentTo("u3"))
}

func TestBroadcastEnumerationFailure(t *testing.T) {
	subs := NewMockSubscriptionStore()
	subs.listErr = errors.New("db down")
	d := newTestDispatcher(subs, NewMockSender())

	_, err := d.Broadcast(context.Background(), DailyMessage(time.Now()))
	assert.Error(t, err)
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	d := newTestDispatcher(NewMockSubscriptionStore(), NewMockSender())

	result, err := d.Broadcast(context.Background(), DailyMessage(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
}

func TestGoneSubscriptionIsPruned(t *testing.T) {
	subs := NewMockSubscriptionStore()
	subs.add("u1")
	subs.add("u2")
	sender := NewMockSender()
	sender.failWith["u1"] = &DeliveryError{StatusCode: 410}
	d := newTestDispatcher(subs, sender)

	result, err := d.Broadcast(context.Background(), DailyMessage(time.Now()))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempted, "gone subscription still counts as attempted")
	assert.Equal(t, 1, subs.count(), "gone subscription removed from registry")
	_, err = subs.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, subscriptions.ErrNotFound)
}

func TestTransientFailureIsNotPruned(t *testing.T) {
	subs := NewMockSubscriptionStore()
	subs.add("u1")
	sender := NewMockSender()
	sender.failWith["u1"] = &DeliveryError{StatusCode: 500}
	d := newTestDispatcher(subs, sender)

	_, err := d.Broadcast(context.Background(), DailyMessage(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, subs.count())
}

func TestDeliveryErrorGone(t *testing.T) {
	assert.True(t, (&DeliveryError{StatusCode: 404}).Gone())
	assert.True(t, (&DeliveryError{StatusCode: 410}).Gone())
	assert.False(t, (&DeliveryError{StatusCode: 429}).Gone())
	assert.False(t, (&DeliveryError{StatusCode: 500}).Gone())
}

func TestDailyMessage(t *testing.T) {
	now := time.Now()
	msg := DailyMessage(now)
	assert.Equal(t, "Care HQ — Daily Check", msg.Title)
	assert.NotEmpty(t, msg.Body)
	assert.Equal(t, now.UnixMilli(), msg.Data["t"])
}
