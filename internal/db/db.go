package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
)

// Connect opens the Postgres database at dsn and runs migrations.
func Connect(dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logging.OrNop(logger).Info("database migrations applied", zap.Int("count", len(migrations)))

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
        id SERIAL PRIMARY KEY,
        sender_type TEXT NOT NULL CHECK (sender_type IN ('student', 'mentor')),
        sender_id INT NOT NULL,
        receiver_id INT NOT NULL,
        content TEXT NOT NULL,
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), created_at);`,
	`CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (receiver_id, sender_id) WHERE is_read = FALSE;`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
