package event

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"farmops/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	enqueueFn func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	tasks     []*asynq.Task
}

func (m *enqueuerMock) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.enqueueFn != nil {
		info, err := m.enqueueFn(ctx, task, opts...)
		if err != nil {
			return nil, err
		}
		m.tasks = append(m.tasks, task)
		return info, nil
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestService(t *testing.T) (*Service, *enqueuerMock) {
	t.Helper()

	db := testutil.NewTestDB(t, &Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enqueuer := &enqueuerMock{}
	svc := NewService(ServiceParams{DB: db, Node: node, Enqueuer: enqueuer})
	return svc, enqueuer
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"labeled"}`)

	require.True(t, VerifySignature("secret", body, sign("secret", body)))
	require.False(t, VerifySignature("secret", body, sign("other", body)))
	require.False(t, VerifySignature("secret", body, ""))
	require.False(t, VerifySignature("secret", body, "sha256=deadbeef"))
}

func TestIngestStoresEventAndEnqueues(t *testing.T) {
	svc, enqueuer := newTestService(t)

	record, duplicate, err := svc.Ingest(context.Background(), "delivery-1", "issues", []byte(`{"action":"labeled"}`))
	require.NoError(t, err)
	require.False(t, duplicate)
	require.NotEmpty(t, record.ID)
	require.Equal(t, "issues", record.EventType)

	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, TypeProcessEvent, enqueuer.tasks[0].Type())

	var payload ProcessEventPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, record.ID, payload.EventID)
}

func TestIngestDuplicateOfProcessedEventIsNoOp(t *testing.T) {
	svc, enqueuer := newTestService(t)

	first, duplicate, err := svc.Ingest(context.Background(), "delivery-1", "issues", []byte(`{"action":"labeled"}`))
	require.NoError(t, err)
	require.False(t, duplicate)
	require.NoError(t, svc.db.Model(&Event{}).Where("id = ?", first.ID).Update("processed", true).Error)

	second, duplicate, err := svc.Ingest(context.Background(), "delivery-1", "issues", []byte(`{"action":"labeled"}`))
	require.NoError(t, err)
	require.True(t, duplicate)
	require.Equal(t, first.ID, second.ID)

	require.Len(t, enqueuer.tasks, 1)

	var count int64
	require.NoError(t, svc.db.Model(&Event{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestIngestRedeliveryRecoversStrandedEvent(t *testing.T) {
	svc, enqueuer := newTestService(t)
	enqueuer.enqueueFn = func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
		return nil, errors.New("redis unavailable")
	}

	// First delivery stores the event but fails to enqueue.
	_, _, err := svc.Ingest(context.Background(), "delivery-1", "issues", []byte(`{"action":"labeled"}`))
	require.Error(t, err)
	require.Empty(t, enqueuer.tasks)

	var stored Event
	require.NoError(t, svc.db.Where("delivery_id = ?", "delivery-1").First(&stored).Error)
	require.False(t, stored.Processed)

	// The redelivery finds the unprocessed row and requeues it.
	enqueuer.enqueueFn = nil
	record, duplicate, err := svc.Ingest(context.Background(), "delivery-1", "issues", []byte(`{"action":"labeled"}`))
	require.NoError(t, err)
	require.True(t, duplicate)
	require.Equal(t, stored.ID, record.ID)

	require.Len(t, enqueuer.tasks, 1)
	var payload ProcessEventPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, stored.ID, payload.EventID)
}

func TestIngestPreservesRawPayload(t *testing.T) {
	svc, _ := newTestService(t)

	body := []byte(`{"action":"labeled","issue":{"number":7}}`)
	record, _, err := svc.Ingest(context.Background(), "delivery-2", "issues", body)
	require.NoError(t, err)
	require.JSONEq(t, string(body), string(record.Payload))
}
