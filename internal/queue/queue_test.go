package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

func TestEnqueueBulk_AssignsIDsInOrder(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	ids, err := q.EnqueueBulk(ctx, []Job{
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Chat},
		{ChannelID: "c1", ModelID: "m2", EndpointType: strategy.Claude},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestEnqueueBulk_Empty(t *testing.T) {
	q := New(coordination.NewMemory())
	ids, err := q.EnqueueBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestDequeue_RoundTripsJobPayload(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	_, err := q.EnqueueBulk(ctx, []Job{{ChannelID: "c1", ModelID: "m1", ModelName: "gpt", EndpointType: strategy.Chat}})
	require.NoError(t, err)

	_, job, ack, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", job.ChannelID)
	assert.Equal(t, "m1", job.ModelID)
	assert.Equal(t, strategy.Chat, job.EndpointType)
	require.NotNil(t, ack)
	ack()
}

func TestStats_ReflectsWaitingActiveCompletedFailed(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	_, err := q.EnqueueBulk(ctx, []Job{
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Chat},
		{ChannelID: "c1", ModelID: "m2", EndpointType: strategy.Chat},
	})
	require.NoError(t, err)

	_, _, ack, err := q.Dequeue(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(2), stats.Total)

	q.MarkDone(true)
	ack()
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestTestingModelIDs_UnionOfWaitingAndActive(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	_, err := q.EnqueueBulk(ctx, []Job{
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Chat},
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Claude},
		{ChannelID: "c1", ModelID: "m2", EndpointType: strategy.Chat},
	})
	require.NoError(t, err)

	ids, err := q.TestingModelIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)
}

func TestIsModelComplete(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	_, err := q.EnqueueBulk(ctx, []Job{
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Chat},
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Claude},
	})
	require.NoError(t, err)

	complete, err := q.IsModelComplete(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, complete, "two outstanding endpoint jobs for the same model should not be complete")

	complete, err = q.IsModelComplete(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, complete, "a model with no outstanding jobs is trivially complete")
}

func TestDrain_RemovesWaitingJobs(t *testing.T) {
	q := New(coordination.NewMemory())
	ctx := context.Background()

	_, err := q.EnqueueBulk(ctx, []Job{
		{ChannelID: "c1", ModelID: "m1", EndpointType: strategy.Chat},
		{ChannelID: "c1", ModelID: "m2", EndpointType: strategy.Chat},
	})
	require.NoError(t, err)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
}
