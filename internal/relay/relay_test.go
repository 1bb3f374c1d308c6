package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/dbtest"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/registry"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu   sync.Mutex
	sent []registry.Message
	fail func(msg registry.Message) error
}

func (f *fakePublisher) Publish(_ context.Context, msg registry.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, msg)
	return "msg-" + msg.Attributes["outbox_id"], nil
}

func (f *fakePublisher) sentIDs(orderingKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, msg := range f.sent {
		if orderingKey == "" || msg.OrderingKey == orderingKey {
			ids = append(ids, msg.Attributes["outbox_id"])
		}
	}
	return ids
}

type fixture struct {
	client    *db.Client
	events    *outbox.Repository
	dlq       *outbox.DLQRepository
	emitter   *outbox.Service
	publisher *fakePublisher
	relay     *Relay
	clock     time.Time
}

func newFixture(t *testing.T, cfg config.OutboxConfig) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	events := outbox.NewRepository(client.DB())
	catalog, err := registry.NewCatalog(config.PubSubConfig{DomainTopic: "domain-topic"})
	require.NoError(t, err)

	fx := &fixture{
		client:    client,
		events:    events,
		dlq:       outbox.NewDLQRepository(client.DB()),
		emitter:   outbox.NewService(events, nil),
		publisher: &fakePublisher{},
		clock:     baseTime.Add(time.Minute),
	}
	r, err := New(Params{
		Logger:      logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		DB:          client,
		Events:      events,
		DeadLetters: fx.dlq,
		Catalog:     catalog,
		Publisher:   fx.publisher,
		Config:      cfg,
	})
	require.NoError(t, err)
	r.now = func() time.Time { return fx.clock }
	r.jitter = func() time.Duration { return 0 }
	fx.relay = r
	return fx
}

// emitStock queues stock events for one item, one second apart, and returns
// the outbox rows oldest first.
func (fx *fixture) emitStock(t *testing.T, itemID uuid.UUID, n int) []models.OutboxEvent {
	t.Helper()
	for i := 0; i < n; i++ {
		err := fx.client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return fx.emitter.Emit(context.Background(), tx, outbox.DomainEvent{
				EventType:     enums.EventStockChanged,
				AggregateType: enums.AggregateStoreItem,
				AggregateID:   itemID,
				OccurredAt:    baseTime.Add(time.Duration(i) * time.Second),
				Data: payloads.StockChangedEvent{
					ItemID:      itemID,
					Action:      enums.AuditActionStockRestock,
					StockBefore: int64(i),
					StockAfter:  int64(i + 1),
				},
			})
		})
		require.NoError(t, err)
	}
	return fx.rows(t, itemID)
}

func (fx *fixture) rows(t *testing.T, aggregateID uuid.UUID) []models.OutboxEvent {
	t.Helper()
	rows, err := fx.events.ListForAggregate(nil, aggregateID)
	require.NoError(t, err)
	return rows
}

func TestDrainPublishesPerAggregateInOrder(t *testing.T) {
	fx := newFixture(t, config.OutboxConfig{})
	itemA, itemB := uuid.New(), uuid.New()
	rowsA := fx.emitStock(t, itemA, 3)
	rowsB := fx.emitStock(t, itemB, 1)

	claimed, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, claimed)

	keyA := "store_item:" + itemA.String()
	require.Equal(t, []string{rowsA[0].ID.String(), rowsA[1].ID.String(), rowsA[2].ID.String()}, fx.publisher.sentIDs(keyA))
	require.Equal(t, []string{rowsB[0].ID.String()}, fx.publisher.sentIDs("store_item:"+itemB.String()))

	for _, row := range append(fx.rows(t, itemA), fx.rows(t, itemB)...) {
		require.NotNil(t, row.PublishedAt, "row %s not published", row.ID)
		require.Nil(t, row.LastError)
	}

	claimed, err = fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, claimed)
}

func TestDrainHoldsAggregateBehindFailedEvent(t *testing.T) {
	fx := newFixture(t, config.OutboxConfig{})
	itemA, itemB := uuid.New(), uuid.New()
	rowsA := fx.emitStock(t, itemA, 2)
	rowsB := fx.emitStock(t, itemB, 1)

	failing := rowsA[0].ID.String()
	fx.publisher.fail = func(msg registry.Message) error {
		if msg.Attributes["outbox_id"] == failing {
			return errors.New("broker unavailable")
		}
		return nil
	}

	_, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Empty(t, fx.publisher.sentIDs("store_item:"+itemA.String()))
	require.Equal(t, []string{rowsB[0].ID.String()}, fx.publisher.sentIDs("store_item:"+itemB.String()))

	retryAt := fx.clock.Add(retryBase)
	after := fx.rows(t, itemA)
	require.Nil(t, after[0].PublishedAt)
	require.Equal(t, 1, after[0].AttemptCount)
	require.NotNil(t, after[0].LastError)
	require.Contains(t, *after[0].LastError, "broker unavailable")
	require.True(t, after[0].AvailableAt.Equal(retryAt), "retry at %v, want %v", after[0].AvailableAt, retryAt)

	require.Nil(t, after[1].PublishedAt)
	require.Zero(t, after[1].AttemptCount, "held events must not burn attempts")
	require.True(t, after[1].AvailableAt.Equal(retryAt))

	// Nothing is due before the retry time.
	fx.clock = retryAt.Add(-time.Millisecond)
	claimed, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, claimed)

	fx.publisher.fail = nil
	fx.clock = retryAt
	claimed, err = fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, claimed)
	require.Equal(t, []string{rowsA[0].ID.String(), rowsA[1].ID.String()}, fx.publisher.sentIDs("store_item:"+itemA.String()))
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	fx := newFixture(t, config.OutboxConfig{MaxAttempts: 2})
	itemID := uuid.New()
	rows := fx.emitStock(t, itemID, 1)
	require.NoError(t, fx.client.DB().Model(&models.OutboxEvent{}).
		Where("id = ?", rows[0].ID).
		Update("attempt_count", 1).Error)
	fx.publisher.fail = func(registry.Message) error { return errors.New("timeout") }

	_, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)

	entry, err := fx.dlq.FindByEventID(context.Background(), rows[0].ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, entry.ErrorReason)
	require.Equal(t, 2, entry.AttemptCount)
	require.Contains(t, *entry.ErrorMessage, "timeout")

	parked := fx.rows(t, itemID)[0]
	require.Nil(t, parked.PublishedAt)
	require.Equal(t, 2, parked.AttemptCount)

	fx.clock = fx.clock.Add(time.Hour)
	claimed, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, claimed)
}

func TestDrainDeadLettersUnpublishableRows(t *testing.T) {
	fx := newFixture(t, config.OutboxConfig{})
	itemID := uuid.New()
	err := fx.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return fx.emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventStockChanged,
			AggregateType: enums.AggregateStoreItem,
			AggregateID:   itemID,
			OccurredAt:    baseTime,
			Data:          payloads.StockChangedEvent{StockAfter: 1},
		})
	})
	require.NoError(t, err)
	rows := fx.rows(t, itemID)

	_, err = fx.relay.Drain(context.Background())
	require.NoError(t, err)
	require.Empty(t, fx.publisher.sentIDs(""))

	entry, err := fx.dlq.FindByEventID(context.Background(), rows[0].ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonInvalidPayload, entry.ErrorReason)
}

func TestDrainDeadLettersPublisherRejections(t *testing.T) {
	fx := newFixture(t, config.OutboxConfig{})
	itemID := uuid.New()
	rows := fx.emitStock(t, itemID, 1)
	fx.publisher.fail = func(registry.Message) error {
		return registry.NewNonRetryableError(errors.New("message too large"))
	}

	_, err := fx.relay.Drain(context.Background())
	require.NoError(t, err)

	entry, err := fx.dlq.FindByEventID(context.Background(), rows[0].ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonPublishRejected, entry.ErrorReason)
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	r := &Relay{jitter: func() time.Duration { return 0 }}
	require.Equal(t, time.Second, r.retryDelay(1))
	require.Equal(t, 2*time.Second, r.retryDelay(2))
	require.Equal(t, 8*time.Second, r.retryDelay(4))
	require.Equal(t, maxRetryDelay, r.retryDelay(40))
}

func TestGroupByAggregateKeepsClaimOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	events := []models.OutboxEvent{
		{AggregateType: enums.AggregateStoreItem, AggregateID: a},
		{AggregateType: enums.AggregateTask, AggregateID: b},
		{AggregateType: enums.AggregateStoreItem, AggregateID: a},
		{AggregateType: enums.AggregateStoreItem, AggregateID: b},
	}
	require.Equal(t, [][]int{{0, 2}, {1}, {3}}, groupByAggregate(events))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
}
