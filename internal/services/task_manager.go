package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"noteen/backend/internal/models"
)

// TaskStore はTaskManagerが利用する永続化の操作です。TaskService が実装します。
type TaskStore interface {
	List(ctx context.Context) ([]models.TaskGroup, error)
	Subscribe(ctx context.Context) (<-chan Snapshot, error)
	Create(ctx context.Context, group models.TaskGroup) error
	Update(ctx context.Context, group models.TaskGroup) error
	UpdateGroup(ctx context.Context, group models.TaskGroup) error
	Delete(ctx context.Context, ids []uuid.UUID) error
	UpdateGroupOrder(ctx context.Context, groups []models.TaskGroup) error
	UpdateSubTaskOrder(ctx context.Context, subTasks []models.SubTask) error
	Version() uint64
}

// AlarmScheduler はタスクの期限にリマインダーを登録・解除します。
type AlarmScheduler interface {
	Schedule(task models.TaskGroup)
	Cancel(task models.TaskGroup)
}

// TaskManager はセッション中のTaskGroup一覧を保持し、ユーザー操作を1つずつ適用して永続化します。
//
// 一覧は常に表示順 (未完了 → 完了) で保持されます。MoveGroup による並べ替えは
// CommitOrder が呼ばれるまでメモリ上だけに留まります。
type TaskManager struct {
	store  TaskStore
	alarms AlarmScheduler

	mu       sync.Mutex
	groups   []models.TaskGroup
	selected map[uuid.UUID]struct{}
	editMode bool
	// staged は未保存の並べ替えがある場合の表示順のIDです。nil なら並べ替えは保存済みです。
	staged  []uuid.UUID
	version uint64
}

// NewTaskManager は新しいTaskManagerを作成します。
func NewTaskManager(store TaskStore, alarms AlarmScheduler) *TaskManager {
	return &TaskManager{
		store:    store,
		alarms:   alarms,
		selected: make(map[uuid.UUID]struct{}),
	}
}

// Load はストアから一覧を読み込み、メモリ上の状態を置き換えます。
func (m *TaskManager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.store.Version()
	groups, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	m.groups = models.DisplayOrder(groups)
	m.staged = nil
	m.version = version
	m.pruneSelection()
	return nil
}

// Run はストアのスナップショットを購読し、ctx が終了するまでメモリ上の状態に反映します。
func (m *TaskManager) Run(ctx context.Context) error {
	snapshots, err := m.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe tasks: %w", err)
	}
	for snap := range snapshots {
		m.applySnapshot(snap)
	}
	return ctx.Err()
}

func (m *TaskManager) applySnapshot(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 自分の書き込みより古いスナップショットは捨てる
	if snap.Version < m.version {
		return
	}
	groups := models.DisplayOrder(snap.Groups)
	if m.staged != nil {
		groups = applyStaged(groups, m.staged)
		m.staged = groupIDs(groups)
	}
	m.groups = groups
	m.version = snap.Version
	m.pruneSelection()
}

// Groups は表示順のTaskGroup一覧のコピーを返します。
func (m *TaskManager) Groups() []models.TaskGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneGroups(m.groups)
}

// Group は指定IDのTaskGroupを返します。
func (m *TaskManager) Group(id uuid.UUID) (models.TaskGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return models.TaskGroup{}, false
	}
	return m.groups[i].Clone(), true
}

// OrderDirty は保存されていない並べ替えがあるかどうかを返します。
func (m *TaskManager) OrderDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staged != nil
}

// ToggleGroupCompletion はTaskGroupとすべてのサブタスクの完了状態を checked に揃えます。
// 完了にした場合は折りたたみ、リマインダーを解除します。未完了に戻した場合は期限があれば再登録します。
func (m *TaskManager) ToggleGroupCompletion(ctx context.Context, groupID uuid.UUID, checked bool) (models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(groupID)
	if i < 0 {
		return models.TaskGroup{}, ErrGroupNotFound
	}
	g := m.groups[i].Clone()
	for j := range g.SubTasks {
		g.SubTasks[j].Completed = checked
	}
	g.Completed = checked
	if checked {
		g.Expanded = false
	}

	if err := m.store.Update(ctx, g); err != nil {
		return models.TaskGroup{}, fmt.Errorf("toggle completion of %s: %w", groupID, err)
	}
	m.replace(i, g)

	if checked {
		m.alarms.Cancel(g)
	} else if g.DueDate != nil {
		m.alarms.Schedule(g)
	}
	return g.Clone(), nil
}

// ToggleSubTaskCompletion はサブタスク1件の完了状態を反転し、TaskGroupの完了状態を再計算します。
func (m *TaskManager) ToggleSubTaskCompletion(ctx context.Context, groupID, subTaskID uuid.UUID) (models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(groupID)
	if i < 0 {
		return models.TaskGroup{}, ErrGroupNotFound
	}
	g := m.groups[i].Clone()
	found := false
	for j := range g.SubTasks {
		if g.SubTasks[j].ID == subTaskID {
			g.SubTasks[j].Completed = !g.SubTasks[j].Completed
			found = true
			break
		}
	}
	if !found {
		return models.TaskGroup{}, ErrSubTaskNotFound
	}
	g.Completed = models.DeriveCompleted(g.SubTasks)

	if err := m.store.Update(ctx, g); err != nil {
		return models.TaskGroup{}, fmt.Errorf("toggle sub task %s: %w", subTaskID, err)
	}
	m.replace(i, g)
	return g.Clone(), nil
}

// ToggleExpansion はTaskGroupの展開状態を反転します。サブタスクは保存しません。
func (m *TaskManager) ToggleExpansion(ctx context.Context, groupID uuid.UUID) (models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(groupID)
	if i < 0 {
		return models.TaskGroup{}, ErrGroupNotFound
	}
	g := m.groups[i].Clone()
	g.Expanded = !g.Expanded

	if err := m.store.UpdateGroup(ctx, g); err != nil {
		return models.TaskGroup{}, fmt.Errorf("toggle expansion of %s: %w", groupID, err)
	}
	m.replace(i, g)
	return g.Clone(), nil
}

// MoveGroup は未完了のTaskGroupの中で fromIndex の項目を toIndex へ移動します。
// 完了済みのTaskGroupは常に未完了の後ろに表示され、インデックスの対象外です。
// fromIndex が範囲外なら何もしません。toIndex は取り除いた後の範囲に丸められます。
// 変更はメモリ上だけで、CommitOrder を呼ぶまで保存されません。
func (m *TaskManager) MoveGroup(fromIndex, toIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	todo, done := partition(m.groups)
	if fromIndex < 0 || fromIndex >= len(todo) {
		return
	}
	item := todo[fromIndex]
	todo = append(todo[:fromIndex], todo[fromIndex+1:]...)
	target := clamp(toIndex, 0, len(todo))
	todo = append(todo[:target], append([]models.TaskGroup{item}, todo[target:]...)...)

	m.groups = append(todo, done...)
	m.staged = groupIDs(m.groups)
}

// CommitOrder は現在の表示順で Order を 0..n-1 に振り直し、すべてのTaskGroupの並び順を保存します。
func (m *TaskManager) CommitOrder(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := cloneGroups(m.groups)
	for i := range ordered {
		ordered[i].Order = i
	}
	if err := m.store.UpdateGroupOrder(ctx, ordered); err != nil {
		return fmt.Errorf("save task order: %w", err)
	}
	m.groups = ordered
	m.staged = nil
	m.version = m.store.Version()
	return nil
}

// MoveSubTask はTaskGroup内のサブタスクを並べ替え、すぐに保存します。
func (m *TaskManager) MoveSubTask(ctx context.Context, groupID uuid.UUID, fromIndex, toIndex int) (models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(groupID)
	if i < 0 {
		return models.TaskGroup{}, ErrGroupNotFound
	}
	g := m.groups[i].Clone()
	if fromIndex < 0 || fromIndex >= len(g.SubTasks) {
		return g, nil
	}
	item := g.SubTasks[fromIndex]
	subs := append(g.SubTasks[:fromIndex:fromIndex], g.SubTasks[fromIndex+1:]...)
	target := clamp(toIndex, 0, len(subs))
	subs = append(subs[:target:target], append([]models.SubTask{item}, subs[target:]...)...)
	for j := range subs {
		subs[j].Order = j
	}
	g.SubTasks = subs

	if err := m.store.UpdateSubTaskOrder(ctx, subs); err != nil {
		return models.TaskGroup{}, fmt.Errorf("save sub task order of %s: %w", groupID, err)
	}
	m.replace(i, g)
	return g.Clone(), nil
}

// UpsertTask は既存のIDなら全体を更新し、新しいIDならサブタスクと一緒に作成します。
// 別のTaskGroupに属するサブタスクIDや、重複したサブタスクIDは ErrSubTaskConflict になります。
//
// onSaved は保存に成功した後、ロックを保持したまま保存結果で呼ばれます。
// リマインダーの登録・解除は呼び出し側が onSaved で行います。
func (m *TaskManager) UpsertTask(ctx context.Context, task models.TaskGroup, onSaved ...func(models.TaskGroup)) (models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := task.Clone()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	for j := range g.SubTasks {
		if g.SubTasks[j].ID == uuid.Nil {
			g.SubTasks[j].ID = uuid.New()
		}
		g.SubTasks[j].GroupID = g.ID
		g.SubTasks[j].Order = j
	}
	if g.SubTasks == nil {
		g.SubTasks = []models.SubTask{}
	}
	if len(g.SubTasks) > 0 {
		g.Completed = models.DeriveCompleted(g.SubTasks)
	}
	if err := m.checkSubTaskOwners(g); err != nil {
		return models.TaskGroup{}, err
	}

	if i := m.indexOf(g.ID); i >= 0 {
		g.Order = m.groups[i].Order
		if err := m.store.Update(ctx, g); err != nil {
			return models.TaskGroup{}, fmt.Errorf("update task %s: %w", g.ID, err)
		}
		m.replace(i, g)
		runSaved(onSaved, g)
		return g.Clone(), nil
	}

	g.Order = m.nextOrder()
	if err := m.store.Create(ctx, g); err != nil {
		return models.TaskGroup{}, fmt.Errorf("create task %s: %w", g.ID, err)
	}
	m.groups = append(m.groups, g)
	if m.staged != nil {
		m.staged = append(m.staged, g.ID)
	}
	m.resort()
	m.version = m.store.Version()
	runSaved(onSaved, g)
	return g.Clone(), nil
}

// checkSubTaskOwners はサブタスクIDが g の中で一意で、他のTaskGroupに属していないことを確認します。
func (m *TaskManager) checkSubTaskOwners(g models.TaskGroup) error {
	seen := make(map[uuid.UUID]struct{}, len(g.SubTasks))
	for _, st := range g.SubTasks {
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("sub task %s appears twice: %w", st.ID, ErrSubTaskConflict)
		}
		seen[st.ID] = struct{}{}
	}
	for _, other := range m.groups {
		if other.ID == g.ID {
			continue
		}
		for _, st := range other.SubTasks {
			if _, ok := seen[st.ID]; ok {
				return fmt.Errorf("sub task %s is owned by %s: %w", st.ID, other.ID, ErrSubTaskConflict)
			}
		}
	}
	return nil
}

func runSaved(hooks []func(models.TaskGroup), g models.TaskGroup) {
	for _, hook := range hooks {
		hook(g.Clone())
	}
}

// DeleteByIDs はTaskGroupをサブタスクごと削除し、選択状態と編集モードを解除します。
// 削除したTaskGroupを返します。
func (m *TaskManager) DeleteByIDs(ctx context.Context, ids []uuid.UUID) ([]models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, ids)
}

// DeleteSelected は選択中のTaskGroupを削除します。
func (m *TaskManager) DeleteSelected(ctx context.Context) ([]models.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, m.selectedLocked())
}

func (m *TaskManager) deleteLocked(ctx context.Context, ids []uuid.UUID) ([]models.TaskGroup, error) {
	if len(ids) > 0 {
		if err := m.store.Delete(ctx, ids); err != nil {
			return nil, fmt.Errorf("delete tasks: %w", err)
		}
	}

	remove := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	var removed []models.TaskGroup
	kept := m.groups[:0:0]
	for _, g := range m.groups {
		if _, ok := remove[g.ID]; ok {
			removed = append(removed, g)
			continue
		}
		kept = append(kept, g)
	}
	m.groups = kept
	if m.staged != nil {
		m.staged = groupIDs(kept)
	}
	m.selected = make(map[uuid.UUID]struct{})
	m.editMode = false
	if len(ids) > 0 {
		m.version = m.store.Version()
	}
	return removed, nil
}

// EnterEditMode は複数選択の編集モードに入ります。
func (m *TaskManager) EnterEditMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editMode = true
}

// ExitEditMode は編集モードを終了し、選択を解除します。
func (m *TaskManager) ExitEditMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editMode = false
	m.selected = make(map[uuid.UUID]struct{})
}

// EditMode は編集モード中かどうかを返します。
func (m *TaskManager) EditMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editMode
}

// ToggleSelection はIDを選択に追加、または選択から外します。
func (m *TaskManager) ToggleSelection(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
		return
	}
	m.selected[id] = struct{}{}
}

// SelectAll はすべて選択済みなら選択を空にし、そうでなければすべてを選択します。
func (m *TaskManager) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := true
	for _, g := range m.groups {
		if _, ok := m.selected[g.ID]; !ok {
			all = false
			break
		}
	}
	if all && len(m.selected) == len(m.groups) {
		m.selected = make(map[uuid.UUID]struct{})
		return
	}
	m.selected = make(map[uuid.UUID]struct{}, len(m.groups))
	for _, g := range m.groups {
		m.selected[g.ID] = struct{}{}
	}
}

// Selected は選択中のIDを表示順で返します。
func (m *TaskManager) Selected() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectedLocked()
}

func (m *TaskManager) selectedLocked() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.selected))
	for _, g := range m.groups {
		if _, ok := m.selected[g.ID]; ok {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

func (m *TaskManager) pruneSelection() {
	present := make(map[uuid.UUID]struct{}, len(m.groups))
	for _, g := range m.groups {
		present[g.ID] = struct{}{}
	}
	for id := range m.selected {
		if _, ok := present[id]; !ok {
			delete(m.selected, id)
		}
	}
}

func (m *TaskManager) indexOf(id uuid.UUID) int {
	for i, g := range m.groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

// replace は i 番目を g で置き換え、完了状態に合わせて表示順を整えます。
func (m *TaskManager) replace(i int, g models.TaskGroup) {
	m.groups[i] = g
	m.resort()
	m.version = m.store.Version()
}

// resort は未完了 → 完了の順に並べ直します。未保存の並べ替えがある場合は現在の相対順を保ちます。
func (m *TaskManager) resort() {
	if m.staged != nil {
		todo, done := partition(m.groups)
		m.groups = append(todo, done...)
		m.staged = groupIDs(m.groups)
		return
	}
	m.groups = models.DisplayOrder(m.groups)
}

func (m *TaskManager) nextOrder() int {
	next := 0
	for _, g := range m.groups {
		if g.Order >= next {
			next = g.Order + 1
		}
	}
	return next
}

func partition(groups []models.TaskGroup) (todo, done []models.TaskGroup) {
	todo = make([]models.TaskGroup, 0, len(groups))
	done = make([]models.TaskGroup, 0, len(groups))
	for _, g := range groups {
		if g.Completed {
			done = append(done, g)
		} else {
			todo = append(todo, g)
		}
	}
	return todo, done
}

// applyStaged は未保存の並べ替え順をスナップショットに重ねます。
// staged に無いTaskGroupは各区分の末尾に置かれます。
func applyStaged(groups []models.TaskGroup, staged []uuid.UUID) []models.TaskGroup {
	pos := make(map[uuid.UUID]int, len(staged))
	for i, id := range staged {
		pos[id] = i
	}
	rank := func(g models.TaskGroup) int {
		if p, ok := pos[g.ID]; ok {
			return p
		}
		return len(staged)
	}

	todo, done := partition(groups)
	sortStable(todo, rank)
	sortStable(done, rank)
	return append(todo, done...)
}

func sortStable(groups []models.TaskGroup, rank func(models.TaskGroup) int) {
	// 挿入ソート: 件数は少なく、安定性が必要
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && rank(groups[j]) < rank(groups[j-1]); j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
}

func groupIDs(groups []models.TaskGroup) []uuid.UUID {
	ids := make([]uuid.UUID, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
