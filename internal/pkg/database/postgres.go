package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Database records the sensor history of every bridged device so dashboards
// can query past state without hitting the vendor cloud.
type Database struct {
	conn *pgx.Conn
}

func NewDatabase(ctx context.Context, conn *pgx.Conn) (*Database, error) {
	if err := initialise(ctx, conn); err != nil {
		return nil, err
	}
	return &Database{conn: conn}, nil
}

func initialise(ctx context.Context, conn *pgx.Conn) error {
	const createTablesSQL = `
CREATE TABLE IF NOT EXISTS device (
    object_id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sensor_value (
    id SERIAL PRIMARY KEY,
    time_stamp TIMESTAMP WITH TIME ZONE NOT NULL,
    unit_of_measurement TEXT NOT NULL,
    value TEXT NOT NULL,
    identifier TEXT NOT NULL,
    slug TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_value_identifier ON sensor_value (identifier);
CREATE INDEX IF NOT EXISTS idx_sensor_value_timestamp ON sensor_value (time_stamp);
`
	_, err := conn.Exec(ctx, createTablesSQL)
	return err
}

func (db *Database) Close(ctx context.Context) error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close(ctx)
}
