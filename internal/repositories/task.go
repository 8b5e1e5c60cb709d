// Package repositories はデータベース操作を行うリポジトリを提供します。
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

var (
	ErrTaskNotFound    = errors.New("task group not found")
	ErrSubTaskNotFound = errors.New("sub task not found")
	// ErrSubTaskConflict は別のTaskGroupに属するサブタスクIDへの書き込みです。
	ErrSubTaskConflict = errors.New("sub task belongs to another task group")
)

// TaskGroupEntity は task_groups テーブルの1行です。
// DueDate はUTCのUNIX秒で保存します。
type TaskGroupEntity struct {
	ID        string
	Title     string
	DueDate   sql.NullInt64
	Expanded  bool
	Completed bool
	Order     int
}

// SubTaskEntity は sub_tasks テーブルの1行です。
type SubTaskEntity struct {
	ID          string
	TaskGroupID string
	Title       string
	Completed   bool
	Order       int
}

// TaskGroupWithSubTasks はTaskGroupとそのサブタスクを結合した結果です。
type TaskGroupWithSubTasks struct {
	TaskGroup TaskGroupEntity
	SubTasks  []SubTaskEntity
}

// TaskRepository はTaskGroupとSubTaskの永続化を行います。
// 書き込みは writeMu で直列化され、コミット後ロックを保持したまま変更が通知されます。
type TaskRepository struct {
	DB      *sql.DB
	dialect Dialect
	writeMu sync.Mutex
	changes *ChangeFeed
}

// NewTaskRepository は新しいTaskRepositoryインスタンスを作成します。
func NewTaskRepository(db *sql.DB, dialect Dialect) *TaskRepository {
	return &TaskRepository{DB: db, dialect: dialect, changes: NewChangeFeed()}
}

// Changes は書き込み通知のフィードを返します。
func (r *TaskRepository) Changes() *ChangeFeed {
	return r.changes
}

// Version は最後にコミットされた書き込みのバージョンを返します。
func (r *TaskRepository) Version() uint64 {
	return r.changes.Version()
}

const selectJoined = `
	SELECT g.id, g.title, g.due_date, g.expanded, g.completed, g.display_order,
	       s.id, s.title, s.completed, s.display_order
	FROM task_groups g
	LEFT JOIN sub_tasks s ON s.task_group_id = g.id`

// FindAllWithSubTasks はすべてのTaskGroupをサブタスク付きで display_order 昇順に取得します。
func (r *TaskRepository) FindAllWithSubTasks(ctx context.Context) ([]TaskGroupWithSubTasks, error) {
	query := selectJoined + ` ORDER BY g.display_order ASC, g.id ASC, s.display_order ASC, s.id ASC`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		log.Printf("Failed to query task groups: %v", err)
		return nil, fmt.Errorf("could not query task groups: %w", err)
	}
	defer rows.Close()

	return scanJoined(rows)
}

// FindNearestUpcoming は now より後に期限を持つ未完了のTaskGroupのうち、最も期限が近いものを返します。
// 該当がない場合は nil, nil を返します。
func (r *TaskRepository) FindNearestUpcoming(ctx context.Context, nowUnix int64) (*TaskGroupWithSubTasks, error) {
	query := selectJoined + `
	WHERE g.id = (
		SELECT id FROM task_groups
		WHERE completed = 0 AND due_date IS NOT NULL AND due_date > ?
		ORDER BY due_date ASC, display_order ASC
		LIMIT 1
	)
	ORDER BY s.display_order ASC, s.id ASC`

	rows, err := r.DB.QueryContext(ctx, query, nowUnix)
	if err != nil {
		log.Printf("Failed to query nearest upcoming task: %v", err)
		return nil, fmt.Errorf("could not query nearest upcoming task: %w", err)
	}
	defer rows.Close()

	groups, err := scanJoined(rows)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return &groups[0], nil
}

func scanJoined(rows *sql.Rows) ([]TaskGroupWithSubTasks, error) {
	var groups []TaskGroupWithSubTasks
	index := make(map[string]int)

	for rows.Next() {
		var (
			g        TaskGroupEntity
			subID    sql.NullString
			subTitle sql.NullString
			subDone  sql.NullBool
			subOrder sql.NullInt64
		)
		if err := rows.Scan(
			&g.ID, &g.Title, &g.DueDate, &g.Expanded, &g.Completed, &g.Order,
			&subID, &subTitle, &subDone, &subOrder,
		); err != nil {
			log.Printf("Failed to scan task group: %v", err)
			return nil, fmt.Errorf("could not scan task group: %w", err)
		}

		i, ok := index[g.ID]
		if !ok {
			i = len(groups)
			index[g.ID] = i
			groups = append(groups, TaskGroupWithSubTasks{TaskGroup: g, SubTasks: []SubTaskEntity{}})
		}
		if subID.Valid {
			groups[i].SubTasks = append(groups[i].SubTasks, SubTaskEntity{
				ID:          subID.String,
				TaskGroupID: g.ID,
				Title:       subTitle.String,
				Completed:   subDone.Bool,
				Order:       int(subOrder.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task groups: %w", err)
	}
	return groups, nil
}

// SaveNew はTaskGroupとサブタスクを1つのトランザクションで保存します。
func (r *TaskRepository) SaveNew(ctx context.Context, group TaskGroupEntity, subTasks []SubTaskEntity) error {
	return r.withTx(ctx, "save task", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.dialect.upsertGroup, groupArgs(group)...); err != nil {
			return fmt.Errorf("could not insert task group: %w", err)
		}
		return r.upsertSubTasks(ctx, tx, subTasks)
	})
}

// UpdateWithSubTasks はTaskGroupを更新し、サブタスクの集合を置き換えます。
// 新しい集合に含まれないサブタスクは削除され、それ以外はupsertされます。
func (r *TaskRepository) UpdateWithSubTasks(ctx context.Context, group TaskGroupEntity, subTasks []SubTaskEntity) error {
	return r.withTx(ctx, "update task", func(tx *sql.Tx) error {
		if err := updateGroup(ctx, tx, group); err != nil {
			return err
		}

		query := "DELETE FROM sub_tasks WHERE task_group_id = ?"
		args := []any{group.ID}
		if len(subTasks) > 0 {
			query += " AND id NOT IN (" + placeholders(len(subTasks)) + ")"
			for _, st := range subTasks {
				args = append(args, st.ID)
			}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("could not delete removed sub tasks: %w", err)
		}

		return r.upsertSubTasks(ctx, tx, subTasks)
	})
}

// UpdateGroup はTaskGroupの行だけを更新します。サブタスクには触れません。
func (r *TaskRepository) UpdateGroup(ctx context.Context, group TaskGroupEntity) error {
	return r.withTx(ctx, "update task group", func(tx *sql.Tx) error {
		return updateGroup(ctx, tx, group)
	})
}

// UpdateSubTask はサブタスク1件を更新します。
func (r *TaskRepository) UpdateSubTask(ctx context.Context, subTask SubTaskEntity) error {
	return r.withTx(ctx, "update sub task", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE sub_tasks SET title = ?, completed = ?, display_order = ? WHERE id = ?",
			subTask.Title, subTask.Completed, subTask.Order, subTask.ID,
		)
		if err != nil {
			return fmt.Errorf("could not update sub task: %w", err)
		}
		return requireAffected(result, ErrSubTaskNotFound)
	})
}

// UpdateGroupOrders は複数のTaskGroupの display_order をまとめて書き換えます。
// 既に削除された行は無視します。
func (r *TaskRepository) UpdateGroupOrders(ctx context.Context, groups []TaskGroupEntity) error {
	return r.withTx(ctx, "update task order", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE task_groups SET display_order = ? WHERE id = ?")
		if err != nil {
			return fmt.Errorf("could not prepare order update: %w", err)
		}
		defer stmt.Close()

		for _, g := range groups {
			if _, err := stmt.ExecContext(ctx, g.Order, g.ID); err != nil {
				return fmt.Errorf("could not update order of %s: %w", g.ID, err)
			}
		}
		return nil
	})
}

// UpdateSubTaskOrders は複数のサブタスクの display_order をまとめて書き換えます。
func (r *TaskRepository) UpdateSubTaskOrders(ctx context.Context, subTasks []SubTaskEntity) error {
	return r.withTx(ctx, "update sub task order", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE sub_tasks SET display_order = ? WHERE id = ?")
		if err != nil {
			return fmt.Errorf("could not prepare order update: %w", err)
		}
		defer stmt.Close()

		for _, st := range subTasks {
			if _, err := stmt.ExecContext(ctx, st.Order, st.ID); err != nil {
				return fmt.Errorf("could not update order of %s: %w", st.ID, err)
			}
		}
		return nil
	})
}

// DeleteByIDs は指定したTaskGroupを削除します。サブタスクは外部キーのカスケードで削除されます。
func (r *TaskRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.withTx(ctx, "delete tasks", func(tx *sql.Tx) error {
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		query := "DELETE FROM task_groups WHERE id IN (" + placeholders(len(ids)) + ")"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("could not delete task groups: %w", err)
		}
		return nil
	})
}

// withTx は書き込みロックを取得してトランザクションを実行し、コミット後に変更を通知します。
func (r *TaskRepository) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("Failed to begin transaction (%s): %v", op, err)
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Failed to rollback (%s): %v", op, rbErr)
		}
		if !errors.Is(err, ErrTaskNotFound) && !errors.Is(err, ErrSubTaskNotFound) && !errors.Is(err, ErrSubTaskConflict) {
			log.Printf("Failed to %s: %v", op, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("Failed to commit (%s): %v", op, err)
		return fmt.Errorf("could not commit %s: %w", op, err)
	}

	r.changes.Publish()
	return nil
}

func (r *TaskRepository) upsertSubTasks(ctx context.Context, tx *sql.Tx, subTasks []SubTaskEntity) error {
	if len(subTasks) == 0 {
		return nil
	}
	if err := checkSubTaskOwners(ctx, tx, subTasks); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, r.dialect.upsertSubTask)
	if err != nil {
		return fmt.Errorf("could not prepare sub task upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range subTasks {
		if _, err := stmt.ExecContext(ctx, st.ID, st.TaskGroupID, st.Title, st.Completed, st.Order); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("sub task %s references %s: %w", st.ID, st.TaskGroupID, ErrTaskNotFound)
			}
			return fmt.Errorf("could not upsert sub task: %w", err)
		}
	}
	return nil
}

// checkSubTaskOwners は既存のサブタスクが別のTaskGroupに属していないことを確認します。
func checkSubTaskOwners(ctx context.Context, tx *sql.Tx, subTasks []SubTaskEntity) error {
	args := make([]any, len(subTasks))
	owners := make(map[string]string, len(subTasks))
	for i, st := range subTasks {
		args[i] = st.ID
		owners[st.ID] = st.TaskGroupID
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT id, task_group_id FROM sub_tasks WHERE id IN ("+placeholders(len(subTasks))+")", args...)
	if err != nil {
		return fmt.Errorf("could not query sub task owners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, groupID string
		if err := rows.Scan(&id, &groupID); err != nil {
			return fmt.Errorf("could not scan sub task owner: %w", err)
		}
		if owners[id] != groupID {
			return fmt.Errorf("sub task %s is owned by %s: %w", id, groupID, ErrSubTaskConflict)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating sub task owners: %w", err)
	}
	return nil
}

func updateGroup(ctx context.Context, tx *sql.Tx, group TaskGroupEntity) error {
	result, err := tx.ExecContext(ctx,
		"UPDATE task_groups SET title = ?, due_date = ?, expanded = ?, completed = ?, display_order = ? WHERE id = ?",
		group.Title, group.DueDate, group.Expanded, group.Completed, group.Order, group.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update task group: %w", err)
	}
	return requireAffected(result, ErrTaskNotFound)
}

func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func groupArgs(g TaskGroupEntity) []any {
	return []any{g.ID, g.Title, g.DueDate, g.Expanded, g.Completed, g.Order}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
