package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"noteen/backend/internal/models"
	"noteen/backend/internal/repositories"
)

var (
	ErrGroupNotFound   = errors.New("task group not found")
	ErrSubTaskNotFound = errors.New("sub task not found")
	ErrSubTaskConflict = errors.New("sub task belongs to another task group")
)

// Snapshot はある時点のTaskGroup一覧です。Version はそれを生んだコミットのバージョンです。
type Snapshot struct {
	Version uint64
	Groups  []models.TaskGroup
}

// TaskService はデータベースのレコードとドメインモデルを相互に変換し、
// 一覧と直近のタスクを購読できるストリームとして公開します。
type TaskService struct {
	repo *repositories.TaskRepository
	now  func() time.Time

	mu          sync.Mutex
	groupSubs   map[chan Snapshot]struct{}
	nearestSubs map[chan *models.TaskGroup]struct{}
	cancelFeed  func()
}

// NewTaskService は新しいTaskServiceを作成し、リポジトリの変更通知を購読します。
func NewTaskService(repo *repositories.TaskRepository) *TaskService {
	s := &TaskService{
		repo:        repo,
		now:         time.Now,
		groupSubs:   make(map[chan Snapshot]struct{}),
		nearestSubs: make(map[chan *models.TaskGroup]struct{}),
	}
	s.cancelFeed = repo.Changes().Subscribe(s.onChange)
	return s
}

// Close は変更通知の購読を解除します。
func (s *TaskService) Close() {
	s.cancelFeed()
}

// Version は最後にコミットされた書き込みのバージョンを返します。
func (s *TaskService) Version() uint64 {
	return s.repo.Version()
}

// List はすべてのTaskGroupを Order 昇順で返します。
func (s *TaskService) List(ctx context.Context) ([]models.TaskGroup, error) {
	records, err := s.repo.FindAllWithSubTasks(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]models.TaskGroup, 0, len(records))
	for _, rec := range records {
		g, err := toModel(rec)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Nearest は現在時刻より後に期限がある未完了のTaskGroupのうち最も近いものを返します。該当なしは nil です。
func (s *TaskService) Nearest(ctx context.Context) (*models.TaskGroup, error) {
	rec, err := s.repo.FindNearestUpcoming(ctx, s.now().Unix())
	if err != nil || rec == nil {
		return nil, err
	}
	g, err := toModel(*rec)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Subscribe は一覧のスナップショットを受け取るチャネルを返します。
// 最初の値は購読時点の状態です。受信が遅れた場合は最新の値だけが残ります。
// ctx が終了するとチャネルは閉じられます。
func (s *TaskService) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	version := s.repo.Version()
	groups, err := s.List(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ch <- Snapshot{Version: version, Groups: groups}
	s.groupSubs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.groupSubs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// SubscribeNearest は直近のタスク (なければ nil) を受け取るチャネルを返します。
// 値はデータが変更されたときにだけ再評価されます。時間の経過だけでは再計算されません。
func (s *TaskService) SubscribeNearest(ctx context.Context) (<-chan *models.TaskGroup, error) {
	ch := make(chan *models.TaskGroup, 1)

	s.mu.Lock()
	nearest, err := s.Nearest(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ch <- nearest
	s.nearestSubs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.nearestSubs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// onChange はコミットごとにストアから同期的に呼ばれます。
func (s *TaskService) onChange(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if len(s.groupSubs) > 0 {
		groups, err := s.List(ctx)
		if err != nil {
			log.Printf("Failed to refresh task snapshot (version %d): %v", version, err)
		} else {
			for ch := range s.groupSubs {
				offer(ch, Snapshot{Version: version, Groups: cloneGroups(groups)})
			}
		}
	}
	if len(s.nearestSubs) > 0 {
		nearest, err := s.Nearest(ctx)
		if err != nil {
			log.Printf("Failed to refresh nearest task (version %d): %v", version, err)
			return
		}
		for ch := range s.nearestSubs {
			if nearest == nil {
				offer(ch, nil)
				continue
			}
			g := nearest.Clone()
			offer(ch, &g)
		}
	}
}

// offer はバッファ1のチャネルに最新値を入れます。古い値が残っていれば捨てます。
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Create はTaskGroupとサブタスクを新規作成します。
func (s *TaskService) Create(ctx context.Context, group models.TaskGroup) error {
	return mapErr(s.repo.SaveNew(ctx, toEntity(group), toSubTaskEntities(group.SubTasks)))
}

// Update はTaskGroupを更新し、サブタスクの集合を置き換えます。
func (s *TaskService) Update(ctx context.Context, group models.TaskGroup) error {
	return mapErr(s.repo.UpdateWithSubTasks(ctx, toEntity(group), toSubTaskEntities(group.SubTasks)))
}

// UpdateGroup はTaskGroupの項目だけを更新します。
func (s *TaskService) UpdateGroup(ctx context.Context, group models.TaskGroup) error {
	return mapErr(s.repo.UpdateGroup(ctx, toEntity(group)))
}

// UpdateSubTask はサブタスク1件を更新します。
func (s *TaskService) UpdateSubTask(ctx context.Context, subTask models.SubTask) error {
	return mapErr(s.repo.UpdateSubTask(ctx, toSubTaskEntity(subTask)))
}

// Delete は指定IDのTaskGroupをサブタスクごと削除します。
func (s *TaskService) Delete(ctx context.Context, ids []uuid.UUID) error {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	return mapErr(s.repo.DeleteByIDs(ctx, strIDs))
}

// UpdateGroupOrder はTaskGroupの Order をまとめて保存します。
func (s *TaskService) UpdateGroupOrder(ctx context.Context, groups []models.TaskGroup) error {
	entities := make([]repositories.TaskGroupEntity, len(groups))
	for i, g := range groups {
		entities[i] = toEntity(g)
	}
	return mapErr(s.repo.UpdateGroupOrders(ctx, entities))
}

// UpdateSubTaskOrder はサブタスクの Order をまとめて保存します。
func (s *TaskService) UpdateSubTaskOrder(ctx context.Context, subTasks []models.SubTask) error {
	return mapErr(s.repo.UpdateSubTaskOrders(ctx, toSubTaskEntities(subTasks)))
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrTaskNotFound):
		return fmt.Errorf("%w: %w", ErrGroupNotFound, err)
	case errors.Is(err, repositories.ErrSubTaskNotFound):
		return fmt.Errorf("%w: %w", ErrSubTaskNotFound, err)
	case errors.Is(err, repositories.ErrSubTaskConflict):
		return fmt.Errorf("%w: %w", ErrSubTaskConflict, err)
	}
	return err
}

func toModel(rec repositories.TaskGroupWithSubTasks) (models.TaskGroup, error) {
	id, err := uuid.Parse(rec.TaskGroup.ID)
	if err != nil {
		return models.TaskGroup{}, fmt.Errorf("invalid task group id %q: %w", rec.TaskGroup.ID, err)
	}
	g := models.TaskGroup{
		ID:        id,
		Title:     rec.TaskGroup.Title,
		Expanded:  rec.TaskGroup.Expanded,
		Completed: rec.TaskGroup.Completed,
		Order:     rec.TaskGroup.Order,
		SubTasks:  make([]models.SubTask, 0, len(rec.SubTasks)),
	}
	if rec.TaskGroup.DueDate.Valid {
		due := time.Unix(rec.TaskGroup.DueDate.Int64, 0).UTC()
		g.DueDate = &due
	}
	for _, st := range rec.SubTasks {
		subID, err := uuid.Parse(st.ID)
		if err != nil {
			return models.TaskGroup{}, fmt.Errorf("invalid sub task id %q: %w", st.ID, err)
		}
		g.SubTasks = append(g.SubTasks, models.SubTask{
			ID:        subID,
			GroupID:   id,
			Title:     st.Title,
			Completed: st.Completed,
			Order:     st.Order,
		})
	}
	models.SortSubTasks(g.SubTasks)
	return g, nil
}

func toEntity(g models.TaskGroup) repositories.TaskGroupEntity {
	e := repositories.TaskGroupEntity{
		ID:        g.ID.String(),
		Title:     g.Title,
		Expanded:  g.Expanded,
		Completed: g.Completed,
		Order:     g.Order,
	}
	if g.DueDate != nil {
		e.DueDate = sql.NullInt64{Int64: g.DueDate.Unix(), Valid: true}
	}
	return e
}

func toSubTaskEntity(st models.SubTask) repositories.SubTaskEntity {
	return repositories.SubTaskEntity{
		ID:          st.ID.String(),
		TaskGroupID: st.GroupID.String(),
		Title:       st.Title,
		Completed:   st.Completed,
		Order:       st.Order,
	}
}

func toSubTaskEntities(subTasks []models.SubTask) []repositories.SubTaskEntity {
	out := make([]repositories.SubTaskEntity, len(subTasks))
	for i, st := range subTasks {
		out[i] = toSubTaskEntity(st)
	}
	return out
}

func cloneGroups(groups []models.TaskGroup) []models.TaskGroup {
	out := make([]models.TaskGroup, len(groups))
	for i, g := range groups {
		out[i] = g.Clone()
	}
	return out
}
