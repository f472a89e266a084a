package database

import (
	"context"

	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/publisher"
	"github.com/homeassistant-fr-ecosystem/urbanhello-remi-hass/internal/pkg/remi"
)

func (db *Database) Write(ctx context.Context, values []publisher.SensorValue) error {
	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, value := range values {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sensor_value (time_stamp, unit_of_measurement, value, identifier, slug)
			VALUES ($1, $2, $3, $4, $5)
		`, value.Timestamp, value.Unit, value.Value, value.Identifier, value.Slug); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (db *Database) RegisterDevice(device remi.DeviceSummary) error {
	_, err := db.conn.Exec(context.Background(), `
		INSERT INTO device (object_id, name)
		VALUES ($1, $2)
		ON CONFLICT (object_id) DO UPDATE SET name = EXCLUDED.name;
	`, device.ObjectID, device.Name)
	return err
}
