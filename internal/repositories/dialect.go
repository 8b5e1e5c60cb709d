package repositories

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// Dialect はデータベースごとに異なるSQLをまとめたものです。
// REPLACE は親行を削除してサブタスクをカスケード削除してしまうため、真のupsertを使います。
// サブタスクのupsertは所属するTaskGroupを書き換えません。
type Dialect struct {
	Name          string
	upsertGroup   string
	upsertSubTask string
}

var DialectSQLite = Dialect{
	Name: "sqlite3",
	upsertGroup: `INSERT INTO task_groups (id, title, due_date, expanded, completed, display_order)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			due_date = excluded.due_date,
			expanded = excluded.expanded,
			completed = excluded.completed,
			display_order = excluded.display_order`,
	upsertSubTask: `INSERT INTO sub_tasks (id, task_group_id, title, completed, display_order)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			completed = excluded.completed,
			display_order = excluded.display_order`,
}

var DialectMySQL = Dialect{
	Name: "mysql",
	upsertGroup: `INSERT INTO task_groups (id, title, due_date, expanded, completed, display_order)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			due_date = VALUES(due_date),
			expanded = VALUES(expanded),
			completed = VALUES(completed),
			display_order = VALUES(display_order)`,
	upsertSubTask: `INSERT INTO sub_tasks (id, task_group_id, title, completed, display_order)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			completed = VALUES(completed),
			display_order = VALUES(display_order)`,
}

// DialectFor はドライバ名に対応するDialectを返します。
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DialectSQLite.Name:
		return DialectSQLite, nil
	case DialectMySQL.Name:
		return DialectMySQL, nil
	}
	return Dialect{}, fmt.Errorf("unsupported dialect %q", driver)
}

// isForeignKeyViolation は存在しないTaskGroupを参照した書き込みかどうかを判定します。
func isForeignKeyViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	// 1452: Cannot add or update a child row: a foreign key constraint fails
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1452 {
		return true
	}
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
