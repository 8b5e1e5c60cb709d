package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteen/backend/internal/models"
	"noteen/backend/internal/services"
)

type alarmCall struct {
	op string
	id uuid.UUID
}

// recordingAlarms は Schedule / Cancel の呼び出しを記録します。
type recordingAlarms struct {
	mu    sync.Mutex
	calls []alarmCall
}

func (a *recordingAlarms) Schedule(task models.TaskGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alarmCall{"schedule", task.ID})
}

func (a *recordingAlarms) Cancel(task models.TaskGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alarmCall{"cancel", task.ID})
}

func (a *recordingAlarms) Calls() []alarmCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alarmCall(nil), a.calls...)
}

func newManager(t *testing.T, seed ...models.TaskGroup) (*services.TaskManager, *services.TaskService, *recordingAlarms) {
	t.Helper()
	s := newTaskService(t)
	ctx := context.Background()
	for _, g := range seed {
		require.NoError(t, s.Create(ctx, g))
	}
	alarms := &recordingAlarms{}
	m := services.NewTaskManager(s, alarms)
	require.NoError(t, m.Load(ctx))
	return m, s, alarms
}

func titles(groups []models.TaskGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Title
	}
	return out
}

func TestLoad_DisplayOrder(t *testing.T) {
	a := group("A", 0)
	b := group("B", 1)
	b.Completed = true
	c := group("C", 2)
	m, _, _ := newManager(t, a, b, c)

	assert.Equal(t, []string{"A", "C", "B"}, titles(m.Groups()))
}

func TestToggleSubTaskCompletion_DerivesGroup(t *testing.T) {
	a := group("A", 0, "s1", "s2")
	m, s, _ := newManager(t, a)
	ctx := context.Background()

	g, err := m.ToggleSubTaskCompletion(ctx, a.ID, a.SubTasks[0].ID)
	require.NoError(t, err)
	assert.False(t, g.Completed)
	assert.Equal(t, models.DeriveCompleted(g.SubTasks), g.Completed)

	g, err = m.ToggleSubTaskCompletion(ctx, a.ID, a.SubTasks[1].ID)
	require.NoError(t, err)
	assert.True(t, g.Completed)

	stored, err := s.List(ctx)
	require.NoError(t, err)
	assert.True(t, stored[0].Completed)
	assert.True(t, stored[0].SubTasks[0].Completed)
	assert.True(t, stored[0].SubTasks[1].Completed)

	g, err = m.ToggleSubTaskCompletion(ctx, a.ID, a.SubTasks[0].ID)
	require.NoError(t, err)
	assert.False(t, g.Completed)

	_, err = m.ToggleSubTaskCompletion(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, services.ErrSubTaskNotFound)
	_, err = m.ToggleSubTaskCompletion(ctx, uuid.New(), a.SubTasks[0].ID)
	assert.ErrorIs(t, err, services.ErrGroupNotFound)
}

func TestToggleGroupCompletion(t *testing.T) {
	due := time.Now().Add(time.Hour).Truncate(time.Second)
	a := group("A", 0, "s1", "s2", "s3")
	a.DueDate = &due
	a.Expanded = true
	b := group("B", 1)
	m, s, alarms := newManager(t, a, b)
	ctx := context.Background()

	g, err := m.ToggleGroupCompletion(ctx, a.ID, true)
	require.NoError(t, err)
	assert.True(t, g.Completed)
	assert.False(t, g.Expanded)
	for _, st := range g.SubTasks {
		assert.True(t, st.Completed)
	}
	assert.Equal(t, []string{"B", "A"}, titles(m.Groups()))

	stored, err := s.List(ctx)
	require.NoError(t, err)
	for _, sg := range stored {
		if sg.ID == a.ID {
			assert.True(t, sg.Completed)
			assert.False(t, sg.Expanded)
		}
	}

	g, err = m.ToggleGroupCompletion(ctx, a.ID, false)
	require.NoError(t, err)
	assert.False(t, g.Completed)
	for _, st := range g.SubTasks {
		assert.False(t, st.Completed)
	}

	// 期限のないタスクは再登録しない
	_, err = m.ToggleGroupCompletion(ctx, b.ID, true)
	require.NoError(t, err)
	_, err = m.ToggleGroupCompletion(ctx, b.ID, false)
	require.NoError(t, err)

	assert.Equal(t, []alarmCall{
		{"cancel", a.ID},
		{"schedule", a.ID},
		{"cancel", b.ID},
	}, alarms.Calls())

	_, err = m.ToggleGroupCompletion(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, services.ErrGroupNotFound)
}

func TestToggleExpansion(t *testing.T) {
	a := group("A", 0, "s1")
	m, s, _ := newManager(t, a)
	ctx := context.Background()

	g, err := m.ToggleExpansion(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, g.Expanded)

	stored, err := s.List(ctx)
	require.NoError(t, err)
	assert.True(t, stored[0].Expanded)
	assert.Len(t, stored[0].SubTasks, 1)
}

func TestMoveGroupAndCommit(t *testing.T) {
	a, b, c := group("A", 0), group("B", 1), group("C", 2)
	m, s, _ := newManager(t, a, b, c)
	ctx := context.Background()

	m.MoveGroup(2, 0)
	assert.Equal(t, []string{"C", "A", "B"}, titles(m.Groups()))
	assert.True(t, m.OrderDirty())

	// 保存前はストアに書き込まれない
	stored, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(stored))

	require.NoError(t, m.CommitOrder(ctx))
	assert.False(t, m.OrderDirty())

	stored, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(stored))
	for i, g := range stored {
		assert.Equal(t, i, g.Order)
	}
}

func TestMoveGroup_StaysInIncompletePartition(t *testing.T) {
	a, b, c := group("A", 0), group("B", 1), group("C", 2)
	done := group("Done", 3)
	done.Completed = true
	m, _, _ := newManager(t, a, b, done, c)

	m.MoveGroup(0, 10)
	assert.Equal(t, []string{"B", "C", "A", "Done"}, titles(m.Groups()))

	m.MoveGroup(5, 0)
	assert.Equal(t, []string{"B", "C", "A", "Done"}, titles(m.Groups()), "out of range source is ignored")

	m.MoveGroup(-1, 0)
	assert.Equal(t, []string{"B", "C", "A", "Done"}, titles(m.Groups()))

	m.MoveGroup(2, -3)
	assert.Equal(t, []string{"A", "B", "C", "Done"}, titles(m.Groups()))
}

func TestMoveSubTask(t *testing.T) {
	a := group("A", 0, "s1", "s2", "s3")
	m, s, _ := newManager(t, a)
	ctx := context.Background()

	g, err := m.MoveSubTask(ctx, a.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, g.SubTasks, 3)
	assert.Equal(t, "s2", g.SubTasks[0].Title)
	assert.Equal(t, "s3", g.SubTasks[1].Title)
	assert.Equal(t, "s1", g.SubTasks[2].Title)

	stored, err := s.List(ctx)
	require.NoError(t, err)
	got := make([]string, 0, 3)
	for i, st := range stored[0].SubTasks {
		got = append(got, st.Title)
		assert.Equal(t, i, st.Order)
	}
	assert.Equal(t, []string{"s2", "s3", "s1"}, got)
}

func TestUpsertTask(t *testing.T) {
	a, b := group("A", 0), group("B", 4)
	m, s, _ := newManager(t, a, b)
	ctx := context.Background()

	created, err := m.UpsertTask(ctx, models.TaskGroup{
		Title:    "New",
		SubTasks: []models.SubTask{{Title: "x", Completed: true}, {Title: "y", Completed: true}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, 5, created.Order)
	assert.True(t, created.Completed, "completion follows sub tasks")
	for i, st := range created.SubTasks {
		assert.NotEqual(t, uuid.Nil, st.ID)
		assert.Equal(t, created.ID, st.GroupID)
		assert.Equal(t, i, st.Order)
	}

	updated := b.Clone()
	updated.Title = "B2"
	updated.Order = 99
	updated.SubTasks = []models.SubTask{{Title: "only"}}
	saved, err := m.UpsertTask(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.Order, "existing task keeps its order")
	assert.False(t, saved.Completed)

	stored, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B2", "New"}, titles(stored))
	assert.Len(t, stored[1].SubTasks, 1)
	assert.Equal(t, []string{"A", "B2", "New"}, titles(m.Groups()))
}

func TestUpsertTask_RejectsForeignSubTask(t *testing.T) {
	a := group("A", 0, "s1", "s2")
	a.SubTasks[0].Completed = true
	m, s, _ := newManager(t, a)
	ctx := context.Background()

	called := false
	_, err := m.UpsertTask(ctx, models.TaskGroup{
		Title:    "B",
		SubTasks: []models.SubTask{{ID: a.SubTasks[1].ID, Title: "s2"}},
	}, func(models.TaskGroup) { called = true })
	assert.ErrorIs(t, err, services.ErrSubTaskConflict)
	assert.False(t, called)

	dup := uuid.New()
	_, err = m.UpsertTask(ctx, models.TaskGroup{
		Title:    "C",
		SubTasks: []models.SubTask{{ID: dup, Title: "x"}, {ID: dup, Title: "y"}},
	})
	assert.ErrorIs(t, err, services.ErrSubTaskConflict)

	got, ok := m.Group(a.ID)
	require.True(t, ok)
	assert.Len(t, got.SubTasks, 2)
	assert.Len(t, m.Groups(), 1)

	stored, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].SubTasks, 2)
	assert.Equal(t, models.DeriveCompleted(stored[0].SubTasks), stored[0].Completed)
}

func TestUpsertTask_RunsHookWithSavedTask(t *testing.T) {
	m, _, _ := newManager(t)

	var seen []models.TaskGroup
	saved, err := m.UpsertTask(context.Background(), models.TaskGroup{Title: "New"}, func(g models.TaskGroup) {
		seen = append(seen, g)
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, saved.ID, seen[0].ID)
	assert.Equal(t, saved.Order, seen[0].Order)
}

var errDiskFull = errors.New("disk full")

// failingStore は読み込みだけ TaskService に任せ、書き込みはすべて失敗させます。
type failingStore struct {
	*services.TaskService
}

func (failingStore) Create(context.Context, models.TaskGroup) error      { return errDiskFull }
func (failingStore) Update(context.Context, models.TaskGroup) error      { return errDiskFull }
func (failingStore) UpdateGroup(context.Context, models.TaskGroup) error { return errDiskFull }
func (failingStore) Delete(context.Context, []uuid.UUID) error           { return errDiskFull }
func (failingStore) UpdateGroupOrder(context.Context, []models.TaskGroup) error {
	return errDiskFull
}
func (failingStore) UpdateSubTaskOrder(context.Context, []models.SubTask) error {
	return errDiskFull
}

func TestWriteFailures_LeaveStateUntouched(t *testing.T) {
	a := group("A", 0, "a1", "a2")
	a.Expanded = true
	due := time.Now().Add(time.Hour)
	a.DueDate = &due
	b := group("B", 1)

	s := newTaskService(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	alarms := &recordingAlarms{}
	m := services.NewTaskManager(failingStore{s}, alarms)
	require.NoError(t, m.Load(ctx))
	before := m.Groups()

	_, err := m.ToggleGroupCompletion(ctx, a.ID, true)
	assert.ErrorIs(t, err, errDiskFull)
	_, err = m.ToggleSubTaskCompletion(ctx, a.ID, a.SubTasks[0].ID)
	assert.ErrorIs(t, err, errDiskFull)
	_, err = m.ToggleExpansion(ctx, a.ID)
	assert.ErrorIs(t, err, errDiskFull)
	_, err = m.MoveSubTask(ctx, a.ID, 0, 1)
	assert.ErrorIs(t, err, errDiskFull)
	_, err = m.UpsertTask(ctx, models.TaskGroup{Title: "C"}, func(models.TaskGroup) {
		t.Error("hook must not run when the save fails")
	})
	assert.ErrorIs(t, err, errDiskFull)
	_, err = m.DeleteByIDs(ctx, []uuid.UUID{b.ID})
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, before, m.Groups())
	got, ok := m.Group(a.ID)
	require.True(t, ok)
	assert.False(t, got.Completed)
	assert.True(t, got.Expanded)

	m.MoveGroup(1, 0)
	err = m.CommitOrder(ctx)
	assert.ErrorIs(t, err, errDiskFull)
	assert.True(t, m.OrderDirty(), "failed commit keeps the staged order")
	assert.Equal(t, []string{"B", "A"}, titles(m.Groups()))

	assert.Empty(t, alarms.Calls())
}

func TestDeleteAndSelection(t *testing.T) {
	a, b, c := group("A", 0, "a1"), group("B", 1), group("C", 2)
	m, s, _ := newManager(t, a, b, c)
	ctx := context.Background()

	m.EnterEditMode()
	assert.True(t, m.EditMode())

	m.SelectAll()
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, m.Selected())
	m.SelectAll()
	assert.Empty(t, m.Selected())

	m.ToggleSelection(a.ID)
	m.ToggleSelection(c.ID)
	m.ToggleSelection(c.ID)
	m.ToggleSelection(b.ID)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, m.Selected())

	removed, err := m.DeleteSelected(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(removed))
	assert.Empty(t, m.Selected())
	assert.False(t, m.EditMode())
	assert.Equal(t, []string{"C"}, titles(m.Groups()))

	stored, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, titles(stored))

	removed, err = m.DeleteByIDs(ctx, []uuid.UUID{c.ID})
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Empty(t, m.Groups())

	m.EnterEditMode()
	m.ExitEditMode()
	assert.False(t, m.EditMode())
}

func TestRun_AppliesExternalWrites(t *testing.T) {
	a, b := group("A", 0), group("B", 1)
	m, s, _ := newManager(t, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, s.Create(ctx, group("C", 2)))
	require.Eventually(t, func() bool {
		return len(m.Groups()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// 未保存の並べ替えは外部の書き込みがあっても保たれる
	m.MoveGroup(2, 0)
	require.NoError(t, s.Create(ctx, group("D", 3)))
	require.Eventually(t, func() bool {
		return len(m.Groups()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"C", "A", "B", "D"}, titles(m.Groups()))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
