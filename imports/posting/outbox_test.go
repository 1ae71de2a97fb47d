package posting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/imports/tenancy"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePublisher struct {
	err  error
	sent []models.ImportOutboxMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg models.ImportOutboxMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return "msg-" + msg.AggregateId, nil
}

func newDispatcher(db *gorm.DB, pub Publisher, clock *time.Time) *OutboxDispatcher {
	s := config.DefaultImportSettings()
	s.OutboxMaxAttempts = 3
	s.OutboxBaseBackoff = 5 * time.Second
	s.OutboxMaxBackoff = 8 * time.Second
	d := NewOutboxDispatcher(db, testutil.NewLogger(), pub, s)
	d.now = func() time.Time { return *clock }
	return d
}

func loadOutbox(t *testing.T, db *gorm.DB) []models.ImportOutboxMessage {
	t.Helper()
	var rows []models.ImportOutboxMessage
	ctx := tenancy.Privileged(context.Background(), "test")
	require.NoError(t, db.WithContext(ctx).Order("id").Find(&rows).Error)
	return rows
}

func TestOutboxBackoff(t *testing.T) {
	clock := time.Now().UTC().Truncate(time.Second)
	d := newDispatcher(nil, nil, &clock)
	assert.Equal(t, 5*time.Second, d.Backoff(0))
	assert.Equal(t, 5*time.Second, d.Backoff(1))
	assert.Equal(t, 8*time.Second, d.Backoff(2))
	assert.Equal(t, 8*time.Second, d.Backoff(10))
}

func TestOutboxDispatchSendsAcrossTenants(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, testutil.NewLogger(), nil)
	for _, tenant := range []string{"t1", "t2"} {
		_, err := svc.Post(context.Background(), candidate(tenant, "TRX1"))
		require.NoError(t, err)
	}

	clock := time.Now().UTC().Truncate(time.Second)
	pub := &fakePublisher{}
	d := newDispatcher(db, pub, &clock)

	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, pub.sent, 2)

	for _, row := range loadOutbox(t, db) {
		assert.Equal(t, models.OutboxPublishStatusSent, row.PublishStatus)
		assert.Equal(t, 1, row.PublishAttempts)
		require.NotNil(t, row.PubSubMessageId)
		assert.Equal(t, "msg-"+row.AggregateId, *row.PubSubMessageId)
		assert.Nil(t, row.LockedBy)
	}

	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOutboxDispatchBacksOffThenDies(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, err := NewService(db, testutil.NewLogger(), nil).Post(context.Background(), candidate("t1", "TRX1"))
	require.NoError(t, err)

	clock := time.Now().UTC().Truncate(time.Second)
	pub := &fakePublisher{err: errors.New("broker down")}
	d := newDispatcher(db, pub, &clock)

	_, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	row := loadOutbox(t, db)[0]
	assert.Equal(t, models.OutboxPublishStatusFailed, row.PublishStatus)
	require.NotNil(t, row.NextAttemptAt)
	assert.WithinDuration(t, clock.Add(5*time.Second), *row.NextAttemptAt, time.Second)
	require.NotNil(t, row.LastPublishError)
	assert.Equal(t, "broker down", *row.LastPublishError)

	// not due yet
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, loadOutbox(t, db)[0].PublishAttempts)

	clock = clock.Add(6 * time.Second)
	_, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	row = loadOutbox(t, db)[0]
	assert.Equal(t, 2, row.PublishAttempts)
	assert.WithinDuration(t, clock.Add(8*time.Second), *row.NextAttemptAt, time.Second)

	clock = clock.Add(9 * time.Second)
	_, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	row = loadOutbox(t, db)[0]
	assert.Equal(t, 3, row.PublishAttempts)
	assert.Equal(t, models.OutboxPublishStatusDead, row.PublishStatus)
	assert.Nil(t, row.NextAttemptAt)

	pub.err = nil
	clock = clock.Add(time.Hour)
	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}
