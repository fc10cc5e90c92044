package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/opensource-telco/kestrel/internal/domain"
)

// openMySQL opens a MySQL/MariaDB database connection.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn := cfg.MySQLDSN
	if dsn == "" {
		return nil, fmt.Errorf("mysql driver requires a DSN")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}

	return db, nil
}
