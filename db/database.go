package db

import (
	"database/sql"
	"fmt"

	"echofm/config"
	"echofm/logger"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes the raw SQL connection. The gorm connection in
// gorm.go coexists with this one; the raw handle backs the unique-insert
// lock table where the atomicity of a single INSERT matters.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to the database.")
	return nil
}

// InitDB creates the tables owned by the raw SQL layer.
func InitDB() error {
	if err := createLocksTable(); err != nil {
		return err
	}
	logger.Info("Database initialization completed.")
	return nil
}

func createLocksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS acquisition_locks (
		external_id VARCHAR(64) NOT NULL PRIMARY KEY,
		acquired_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create acquisition_locks table: %w", err)
	}
	return nil
}

// CloseDB closes the raw SQL connection.
func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
