// Package database はデータベース接続とスキーマの初期化を提供します。
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"noteen/backend/internal/config"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// GetDSN はMySQL接続文字列 (DSN) を構築します。
// clientFoundRows を有効にし、値が変わらないUPDATEでも対象行数を返すようにします。
func GetDSN(cfg config.Database) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + cfg.Port
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.ClientFoundRows = true
	return mc.FormatDSN()
}

// SQLiteDSN はSQLiteファイルの接続文字列を構築します。外部キー制約を有効にします。
func SQLiteDSN(path string) string {
	v := url.Values{}
	v.Set("_fk", "1")
	v.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + v.Encode()
}

// Open は設定に従ってデータベースに接続し、スキーマを作成します。
func Open(cfg config.Database) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverMySQL:
		db, err = sql.Open("mysql", GetDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", SQLiteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		// SQLiteは書き込みが1本なので接続を1つに絞る
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("Successfully connected to %s database!", cfg.Driver)
	return db, nil
}

// InitDB は Open を呼び出し、失敗した場合はプロセスを終了します。
func InitDB(cfg config.Database) *sql.DB {
	db, err := Open(cfg)
	if err != nil {
		log.Fatalf("Fatal: %v", err)
	}
	return db
}

// Migrate は埋め込みスキーマを実行します。すべて CREATE ... IF NOT EXISTS なので何度実行しても安全です。
func Migrate(db *sql.DB, driver string) error {
	name := "schema/sqlite.sql"
	if driver == config.DriverMySQL {
		name = "schema/mysql.sql"
	}
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	for _, stmt := range splitStatements(string(data)) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// splitStatements はスキーマを ";" 区切りの文に分割します。
// MySQLドライバは multiStatements を有効にしない限り複数文を受け付けません。
func splitStatements(schema string) []string {
	var stmts []string
	for _, part := range strings.Split(schema, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
