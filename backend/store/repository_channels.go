package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertChannel writes one catalog item keyed by (device_id, channel_id).
// Items arriving across chunked catalog responses accumulate instead of
// replacing each other.
func (s *Store) UpsertChannel(ctx context.Context, req ChannelUpsertRequest) (*Channel, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	channelID := strings.TrimSpace(req.ChannelID)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_channels (
		device_id, channel_id, name, manufacturer, model, owner, civil_code, address,
		parental, parent_id, safety_way, register_way, secrecy, status, longitude, latitude, ptz_type, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(device_id, channel_id) DO UPDATE SET
		name=COALESCE(NULLIF(excluded.name, ''), name),
		manufacturer=COALESCE(NULLIF(excluded.manufacturer, ''), manufacturer),
		model=COALESCE(NULLIF(excluded.model, ''), model),
		owner=COALESCE(NULLIF(excluded.owner, ''), owner),
		civil_code=COALESCE(NULLIF(excluded.civil_code, ''), civil_code),
		address=COALESCE(NULLIF(excluded.address, ''), address),
		parental=excluded.parental,
		parent_id=COALESCE(NULLIF(excluded.parent_id, ''), parent_id),
		safety_way=excluded.safety_way,
		register_way=excluded.register_way,
		secrecy=excluded.secrecy,
		status=COALESCE(NULLIF(excluded.status, ''), status),
		longitude=COALESCE(excluded.longitude, longitude),
		latitude=COALESCE(excluded.latitude, latitude),
		ptz_type=excluded.ptz_type,
		updated_at=excluded.updated_at`,
		deviceID,
		channelID,
		strings.TrimSpace(req.Name),
		strings.TrimSpace(req.Manufacturer),
		strings.TrimSpace(req.Model),
		strings.TrimSpace(req.Owner),
		strings.TrimSpace(req.CivilCode),
		strings.TrimSpace(req.Address),
		req.Parental,
		strings.TrimSpace(req.ParentID),
		req.SafetyWay,
		req.RegisterWay,
		req.Secrecy,
		strings.TrimSpace(req.Status),
		nullableFloat(req.Longitude),
		nullableFloat(req.Latitude),
		req.PTZType,
		now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetChannel(ctx, deviceID, channelID)
}

// UpsertChannels writes a catalog batch one item at a time. A failing item
// is recorded in the returned error but does not stop the remaining items.
func (s *Store) UpsertChannels(ctx context.Context, items []ChannelUpsertRequest) (int, error) {
	saved := 0
	var failures []error
	for _, item := range items {
		if strings.TrimSpace(item.ChannelID) == "" {
			continue
		}
		if _, err := s.UpsertChannel(ctx, item); err != nil {
			failures = append(failures, fmt.Errorf("channel %s: %w", item.ChannelID, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(failures...)
}

func (s *Store) GetChannel(ctx context.Context, deviceID string, channelID string) (*Channel, error) {
	deviceID = strings.TrimSpace(deviceID)
	channelID = strings.TrimSpace(channelID)
	if deviceID == "" || channelID == "" {
		return nil, errors.New("device id and channel id are required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT
		id, device_id, channel_id, name, manufacturer, model, owner, civil_code, address,
		parental, parent_id, safety_way, register_way, secrecy, status, longitude, latitude, ptz_type, updated_at
	FROM device_channels WHERE device_id=? AND channel_id=?`, deviceID, channelID)
	return scanChannel(row)
}

func (s *Store) ListChannelsByDeviceID(ctx context.Context, deviceID string, page int, limit int) (QueryPageModel[Channel], error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return QueryPageModel[Channel]{}, errors.New("device id is required")
	}
	if page <= 0 {
		page = 1
	}
	limit = clampLimit(limit, 50, 500)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM device_channels WHERE device_id=?", deviceID).Scan(&total); err != nil {
		return QueryPageModel[Channel]{}, err
	}
	offset := (page - 1) * limit
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, device_id, channel_id, name, manufacturer, model, owner, civil_code, address,
		parental, parent_id, safety_way, register_way, secrecy, status, longitude, latitude, ptz_type, updated_at
	FROM device_channels WHERE device_id=? ORDER BY channel_id ASC, id ASC LIMIT ? OFFSET ?`, deviceID, limit, offset)
	if err != nil {
		return QueryPageModel[Channel]{}, err
	}
	defer rows.Close()

	items := make([]Channel, 0, limit)
	for rows.Next() {
		item, scanErr := scanChannel(rows)
		if scanErr != nil {
			return QueryPageModel[Channel]{}, scanErr
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return QueryPageModel[Channel]{}, err
	}
	return QueryPageModel[Channel]{
		Page:      page,
		PageCount: len(items),
		DataCount: total,
		PageSize:  limit,
		Data:      items,
	}, nil
}

func (s *Store) CountChannelsByDeviceID(ctx context.Context, deviceID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM device_channels WHERE device_id=?", strings.TrimSpace(deviceID)).Scan(&total)
	return total, err
}

func scanChannel(scanner interface{ Scan(dest ...any) error }) (*Channel, error) {
	item := Channel{}
	var longitude sql.NullFloat64
	var latitude sql.NullFloat64
	var updatedAt string
	if err := scanner.Scan(
		&item.ID,
		&item.DeviceID,
		&item.ChannelID,
		&item.Name,
		&item.Manufacturer,
		&item.Model,
		&item.Owner,
		&item.CivilCode,
		&item.Address,
		&item.Parental,
		&item.ParentID,
		&item.SafetyWay,
		&item.RegisterWay,
		&item.Secrecy,
		&item.Status,
		&longitude,
		&latitude,
		&item.PTZType,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if longitude.Valid {
		value := longitude.Float64
		item.Longitude = &value
	}
	if latitude.Valid {
		value := latitude.Float64
		item.Latitude = &value
	}
	item.UpdatedAt = parseStoredTime(updatedAt)
	return &item, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
