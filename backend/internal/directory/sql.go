package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/utils"
)

// SQLLookup reads devices straight from the registry's devices table.
type SQLLookup struct {
	db      *sql.DB
	dialect dialect.Dialect
}

func NewSQLLookup(db *sql.DB, d dialect.Dialect) (*SQLLookup, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &SQLLookup{db: db, dialect: d}, nil
}

func (s *SQLLookup) Get(ctx context.Context, deviceID string) (Record, error) {
	query := `SELECT device_id, name, device_type, status, owner_id, firmware_version,
		latitude, longitude, location_name, metadata, thresholds
		FROM devices WHERE device_id = ` + s.dialect.Placeholder(1)

	var (
		rec                          Record
		firmware, lat, lon, locName  sql.NullString
		metadataJSON, thresholdsJSON []byte
	)

	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.DeviceID, &rec.Name, &rec.DeviceType, &rec.Status, &rec.OwnerID,
		&firmware, &lat, &lon, &locName, &metadataJSON, &thresholdsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("failed to query device: %w", err)
	}

	rec.FirmwareVersion = nullString(firmware)
	rec.Latitude = nullString(lat)
	rec.Longitude = nullString(lon)
	rec.LocationName = nullString(locName)

	if err := decodeColumn(metadataJSON, &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("invalid metadata for %s: %w", deviceID, err)
	}

	if err := decodeColumn(thresholdsJSON, &rec.Thresholds); err != nil {
		return Record{}, fmt.Errorf("invalid thresholds for %s: %w", deviceID, err)
	}

	return rec, nil
}

// Save inserts or replaces a device. The registry owns writes in production;
// this serves the local deployment and tests.
func (s *SQLLookup) Save(ctx context.Context, rec Record) error {
	metadata, err := encodeColumn(rec.Metadata)
	if err != nil {
		return err
	}

	thresholds, err := encodeColumn(rec.Thresholds)
	if err != nil {
		return err
	}

	ph := make([]string, 11)
	for i := range ph {
		ph[i] = s.dialect.Placeholder(i + 1)
	}

	query := `INSERT INTO devices (device_id, name, device_type, status, owner_id, firmware_version,
		latitude, longitude, location_name, metadata, thresholds)
		VALUES (` + strings.Join(ph, ", ") + `)
		ON CONFLICT (device_id) DO UPDATE SET
			name = excluded.name,
			device_type = excluded.device_type,
			status = excluded.status,
			owner_id = excluded.owner_id,
			firmware_version = excluded.firmware_version,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			location_name = excluded.location_name,
			metadata = excluded.metadata,
			thresholds = excluded.thresholds,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.ExecContext(ctx, query,
		rec.DeviceID, rec.Name, rec.DeviceType, rec.Status, rec.OwnerID, rec.FirmwareVersion,
		rec.Latitude, rec.Longitude, rec.LocationName, metadata, thresholds,
	); err != nil {
		return fmt.Errorf("failed to save device %s: %w", rec.DeviceID, err)
	}

	return nil
}

func (s *SQLLookup) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	return utils.Ptr(ns.String)
}

// decodeColumn accepts NULL and empty columns as "no value".
func decodeColumn[T any](raw []byte, dst *T) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, dst)
}

func encodeColumn(v any) (string, error) {
	data, err := utils.ToJSON(v)
	if err != nil {
		return "", err
	}

	if string(data) == "null" {
		return "{}", nil
	}

	return string(data), nil
}
