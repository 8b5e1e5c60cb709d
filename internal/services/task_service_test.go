package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteen/backend/internal/models"
	"noteen/backend/internal/services"
	"noteen/backend/testutil"
)

func newTaskService(t *testing.T) *services.TaskService {
	t.Helper()
	_, repo := testutil.NewTestRepository(t)
	s := services.NewTaskService(repo)
	t.Cleanup(s.Close)
	return s
}

func group(title string, order int, subTitles ...string) models.TaskGroup {
	g := models.TaskGroup{ID: uuid.New(), Title: title, Order: order, SubTasks: []models.SubTask{}}
	for i, st := range subTitles {
		g.SubTasks = append(g.SubTasks, models.SubTask{ID: uuid.New(), GroupID: g.ID, Title: st, Order: i})
	}
	return g
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestTaskService_RoundTrip(t *testing.T) {
	s := newTaskService(t)
	ctx := context.Background()

	due := time.Date(2030, 5, 1, 9, 30, 0, 0, time.UTC)
	g := group("Trip", 0, "tickets", "hotel")
	g.DueDate = &due
	require.NoError(t, s.Create(ctx, g))

	groups, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID, groups[0].ID)
	require.NotNil(t, groups[0].DueDate)
	assert.True(t, due.Equal(*groups[0].DueDate))
	require.Len(t, groups[0].SubTasks, 2)
	assert.Equal(t, "tickets", groups[0].SubTasks[0].Title)
	assert.Equal(t, g.ID, groups[0].SubTasks[1].GroupID)
}

func TestTaskService_NotFoundErrors(t *testing.T) {
	s := newTaskService(t)
	ctx := context.Background()

	err := s.UpdateGroup(ctx, group("ghost", 0))
	assert.ErrorIs(t, err, services.ErrGroupNotFound)

	err = s.UpdateSubTask(ctx, models.SubTask{ID: uuid.New(), GroupID: uuid.New(), Title: "ghost"})
	assert.ErrorIs(t, err, services.ErrSubTaskNotFound)
}

func TestTaskService_Subscribe(t *testing.T) {
	s := newTaskService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := s.Subscribe(ctx)
	require.NoError(t, err)

	first := receive(t, snapshots)
	assert.Empty(t, first.Groups)
	assert.Equal(t, uint64(0), first.Version)

	require.NoError(t, s.Create(ctx, group("A", 0)))
	second := receive(t, snapshots)
	assert.Equal(t, uint64(1), second.Version)
	require.Len(t, second.Groups, 1)

	// 受信しなくても書き込みはブロックされず、最新の値だけが残る
	require.NoError(t, s.Create(ctx, group("B", 1)))
	require.NoError(t, s.Create(ctx, group("C", 2)))
	latest := receive(t, snapshots)
	assert.Equal(t, uint64(3), latest.Version)
	assert.Len(t, latest.Groups, 3)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-snapshots
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTaskService_SubscribeNearest(t *testing.T) {
	s := newTaskService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nearestCh, err := s.SubscribeNearest(ctx)
	require.NoError(t, err)
	assert.Nil(t, receive(t, nearestCh))

	later := group("later", 0)
	laterDue := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	later.DueDate = &laterDue
	require.NoError(t, s.Create(ctx, later))
	got := receive(t, nearestCh)
	require.NotNil(t, got)
	assert.Equal(t, later.ID, got.ID)

	soon := group("soon", 1)
	soonDue := time.Now().Add(time.Hour).Truncate(time.Second)
	soon.DueDate = &soonDue
	require.NoError(t, s.Create(ctx, soon))
	got = receive(t, nearestCh)
	require.NotNil(t, got)
	assert.Equal(t, soon.ID, got.ID)

	// 完了したタスクは対象外
	soon.Completed = true
	require.NoError(t, s.UpdateGroup(ctx, soon))
	got = receive(t, nearestCh)
	require.NotNil(t, got)
	assert.Equal(t, later.ID, got.ID)

	require.NoError(t, s.Delete(ctx, []uuid.UUID{later.ID}))
	assert.Nil(t, receive(t, nearestCh))
}
