package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/store"
)

type blockingStore struct {
	store.Store
	release chan struct{}
}

func (b *blockingStore) UpsertParticipant(ctx context.Context, p model.Participant) error {
	<-b.release
	return b.Store.UpsertParticipant(ctx, p)
}

func TestWriteBehind_CoalescesTouchesAndFlushesOnClose(t *testing.T) {
	js, err := store.OpenJSONFile(t.TempDir())
	require.NoError(t, err)
	defer js.Close()
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	wb := NewWriteBehind(js, 8, zap.NewNop(), nil)
	wb.Start()
	assert.True(t, wb.UpsertParticipant(model.Participant{UserID: "s1", ClassroomCode: "FCS-1", JoinedAt: base, LastActiveAt: base}))
	for i := 1; i <= 20; i++ {
		wb.TouchParticipant("FCS-1", "s1", base.Add(time.Duration(i)*time.Second))
	}
	wb.TouchParticipant("FCS-1", "s1", base.Add(5*time.Second))
	require.NoError(t, wb.Close(ctx))

	list, err := js.ListParticipants(ctx, "FCS-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].LastActiveAt.Equal(base.Add(20*time.Second)))

	assert.False(t, wb.UpsertParticipant(model.Participant{UserID: "late", ClassroomCode: "FCS-1"}))
}

func TestWriteBehind_DropsWhenFull(t *testing.T) {
	js, err := store.OpenJSONFile(t.TempDir())
	require.NoError(t, err)
	defer js.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	bs := &blockingStore{Store: js, release: make(chan struct{})}
	wb := NewWriteBehind(bs, 1, zap.NewNop(), m)
	wb.Start()

	// first is taken by the worker and blocks, second fills the queue
	assert.True(t, wb.UpsertParticipant(model.Participant{UserID: "a", ClassroomCode: "FCS-1"}))
	require.Eventually(t, func() bool { return len(wb.upserts) == 0 }, time.Second, time.Millisecond)
	assert.True(t, wb.UpsertParticipant(model.Participant{UserID: "b", ClassroomCode: "FCS-1"}))
	assert.False(t, wb.UpsertParticipant(model.Participant{UserID: "c", ClassroomCode: "FCS-1"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteBehindDropped))

	close(bs.release)
	require.NoError(t, wb.Close(context.Background()))
	list, err := js.ListParticipants(context.Background(), "FCS-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
