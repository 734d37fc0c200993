package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dbDriverName = "sqlite"
)

type DB struct {
	sqlDB *sql.DB
	dsn   string
}

// NewDB opens (and creates if needed) the daemon database at dbPath.
func NewDB(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, errors.New("database path cannot be empty")
	}

	log.Printf("Storage: Initializing database at %s", dbPath)

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	dbHandle, err := sql.Open(dbDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare database connection pool for %s: %w", dbPath, err)
	}

	if err := dbHandle.Ping(); err != nil {
		dbHandle.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", dbPath, err)
	}

	dbHandle.SetMaxOpenConns(5)
	dbHandle.SetMaxIdleConns(2)
	dbHandle.SetConnMaxLifetime(time.Hour)

	database := &DB{
		sqlDB: dbHandle,
		dsn:   dsn,
	}

	if err := database.ensureCreation(); err != nil {
		database.Close()
		return nil, fmt.Errorf("database schema creation failed: %w", err)
	}

	log.Println("Storage: Database connection pool initialized and schema ready.")
	return database, nil
}

func (db *DB) ensureCreation() error {
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY NOT NULL,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`

	log.Println("Storage: Applying database schema...")
	_, err := db.sqlDB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema SQL: %w", err)
	}
	log.Println("Storage: Schema applied successfully.")
	return nil
}

func (db *DB) Close() error {
	log.Println("Storage: Closing database connection pool...")
	if db.sqlDB == nil {
		return nil
	}
	err := db.sqlDB.Close()
	db.sqlDB = nil
	if err != nil {
		log.Printf("Storage: Error closing database: %v", err)
	} else {
		log.Println("Storage: Database closed.")
	}
	return err
}

func (db *DB) GetDB() *sql.DB {
	return db.sqlDB
}
