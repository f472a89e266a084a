package database

import (
	"context"
	"time"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/jackc/pgx/v5"
)

// GetSensorHistory returns recorded values for one device sensor, defaulting
// to the last two days when no range is given.
func (db *Database) GetSensorHistory(ctx context.Context, identifier, slug string, from, to *time.Time) ([]publisher.SensorValue, error) {
	if from == nil || to == nil {
		start := time.Now().AddDate(0, 0, -2)
		end := time.Now()
		from, to = &start, &end
	}
	const query = `
	SELECT time_stamp, unit_of_measurement, value, identifier, slug
	FROM sensor_value
	WHERE identifier = $1 AND slug = $2 AND time_stamp BETWEEN $3 AND $4
	ORDER BY time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query, identifier, slug, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSensorValues(rows)
}

// GetLatestValues returns the most recent reading per sensor.
func (db *Database) GetLatestValues(ctx context.Context) ([]publisher.SensorValue, error) {
	const query = `
	SELECT DISTINCT ON (identifier, slug) time_stamp, unit_of_measurement, value, identifier, slug
	FROM sensor_value
	ORDER BY identifier, slug, time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSensorValues(rows)
}

func scanSensorValues(rows pgx.Rows) ([]publisher.SensorValue, error) {
	var values []publisher.SensorValue
	for rows.Next() {
		var value publisher.SensorValue
		if err := rows.Scan(&value.Timestamp, &value.Unit, &value.Value, &value.Identifier, &value.Slug); err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		if err == pgx.ErrNoRows {
			return values, nil
		}
		return nil, err
	}

	return values, nil
}
