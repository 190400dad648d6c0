package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"moonlight/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under cfg.Databases[dbType].
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.Contains(dbCfg.DSN, ":memory:") {
			// every pooled connection would get its own empty database
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set sqlite busy timeout: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the key/value table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			"CREATE TABLE IF NOT EXISTS kv_store (\n" +
				"\tprofile TEXT NOT NULL,\n" +
				"\t`key` TEXT NOT NULL,\n" +
				"\tvalue TEXT NOT NULL,\n" +
				"\tupdated_at DATETIME NOT NULL,\n" +
				"\tPRIMARY KEY (profile, `key`)\n" +
				")",
			`CREATE INDEX IF NOT EXISTS idx_kv_store_updated_at ON kv_store(updated_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			"CREATE TABLE IF NOT EXISTS kv_store (\n" +
				"\tprofile VARCHAR(191) NOT NULL,\n" +
				"\t`key` VARCHAR(191) NOT NULL,\n" +
				"\tvalue LONGTEXT NOT NULL,\n" +
				"\tupdated_at DATETIME NOT NULL,\n" +
				"\tPRIMARY KEY (profile, `key`),\n" +
				"\tINDEX idx_kv_store_updated_at (updated_at)\n" +
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
