package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"listingbot/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured listing database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch normalizeDriver(dbType) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			sslMode := dbCfg.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				dbCfg.Host, dbCfg.Port, dbCfg.Username, dbCfg.Password, dbCfg.DBName, sslMode)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
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

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS listings (
				id TEXT PRIMARY KEY,
				owner_id INTEGER NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				map_link TEXT NOT NULL DEFAULT '',
				price REAL,
				currency TEXT NOT NULL DEFAULT '',
				rooms INTEGER,
				area_sqm REAL,
				floor INTEGER,
				deal_type TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				amenities TEXT NOT NULL DEFAULT '[]',
				photos TEXT NOT NULL DEFAULT '[]',
				video_ref TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				provenance TEXT,
				favorite INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_owner_coords ON listings(owner_id, latitude, longitude)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS listings (
				id VARCHAR(36) NOT NULL,
				owner_id BIGINT NOT NULL,
				latitude DOUBLE NOT NULL,
				longitude DOUBLE NOT NULL,
				map_link TEXT NOT NULL,
				price DOUBLE NULL,
				currency VARCHAR(16) NOT NULL DEFAULT '',
				rooms INT NULL,
				area_sqm DOUBLE NULL,
				floor INT NULL,
				deal_type VARCHAR(32) NOT NULL DEFAULT '',
				address TEXT NOT NULL,
				amenities TEXT NOT NULL,
				photos MEDIUMTEXT NOT NULL,
				video_ref VARCHAR(255) NOT NULL DEFAULT '',
				description MEDIUMTEXT NOT NULL,
				provenance TEXT NULL,
				favorite BOOLEAN NOT NULL DEFAULT FALSE,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_listings_owner_coords (owner_id, latitude, longitude),
				INDEX idx_listings_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS listings (
				id          VARCHAR(36) PRIMARY KEY,
				owner_id    BIGINT           NOT NULL,
				latitude    DOUBLE PRECISION NOT NULL,
				longitude   DOUBLE PRECISION NOT NULL,
				map_link    TEXT             NOT NULL DEFAULT '',
				price       DOUBLE PRECISION,
				currency    VARCHAR(16)      NOT NULL DEFAULT '',
				rooms       INTEGER,
				area_sqm    DOUBLE PRECISION,
				floor       INTEGER,
				deal_type   VARCHAR(32)      NOT NULL DEFAULT '',
				address     TEXT             NOT NULL DEFAULT '',
				amenities   TEXT             NOT NULL DEFAULT '[]',
				photos      TEXT             NOT NULL DEFAULT '[]',
				video_ref   TEXT             NOT NULL DEFAULT '',
				description TEXT             NOT NULL DEFAULT '',
				provenance  TEXT,
				favorite    BOOLEAN          NOT NULL DEFAULT FALSE,
				created_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_owner_coords ON listings(owner_id, latitude, longitude)`,
			`CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC)`,
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

func normalizeDriver(name string) string {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pg":
		return "postgres"
	default:
		return strings.ToLower(name)
	}
}

// rebind rewrites '?' placeholders into the driver's bind style.
func rebind(driver, query string) string {
	if normalizeDriver(driver) != "postgres" {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
