package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"
)

func (s *Store) ListDevices(ctx context.Context, req DeviceListRequest) (QueryPageModel[Device], error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	req.Limit = clampLimit(req.Limit, 20, 200)

	filter := "WHERE 1=1"
	args := make([]any, 0, 8)
	if keyword := strings.TrimSpace(req.Keyword); keyword != "" {
		filter += " AND (device_id LIKE ? OR name LIKE ? OR ip_address LIKE ?)"
		likeValue := "%" + keyword + "%"
		args = append(args, likeValue, likeValue, likeValue)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		filter += " AND status = ?"
		args = append(args, string(NormalizeDeviceStatus(status)))
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM devices "+filter, args...).Scan(&total); err != nil {
		return QueryPageModel[Device]{}, err
	}

	offset := (req.Page - 1) * req.Limit
	query := `SELECT
		id, device_id, name, device_type, auth_password, ip_address, port, transport, status, expires,
		register_at, last_keepalive_at, manufacturer, model, firmware, created_at, updated_at
	FROM devices ` + filter + ` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, req.Limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return QueryPageModel[Device]{}, err
	}
	defer rows.Close()

	items := make([]Device, 0, req.Limit)
	for rows.Next() {
		item, scanErr := scanDevice(rows)
		if scanErr != nil {
			return QueryPageModel[Device]{}, scanErr
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return QueryPageModel[Device]{}, err
	}
	return QueryPageModel[Device]{
		Page:      req.Page,
		PageCount: len(items),
		DataCount: total,
		PageSize:  req.Limit,
		Data:      items,
	}, nil
}

func (s *Store) GetDeviceByID(ctx context.Context, id int64) (*Device, error) {
	if id <= 0 {
		return nil, errors.New("device id must be greater than zero")
	}
	row := s.db.QueryRowContext(ctx, `SELECT
		id, device_id, name, device_type, auth_password, ip_address, port, transport, status, expires,
		register_at, last_keepalive_at, manufacturer, model, firmware, created_at, updated_at
	FROM devices WHERE id=?`, id)
	return scanDevice(row)
}

func (s *Store) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT
		id, device_id, name, device_type, auth_password, ip_address, port, transport, status, expires,
		register_at, last_keepalive_at, manufacturer, model, firmware, created_at, updated_at
	FROM devices WHERE device_id=?`, deviceID)
	return scanDevice(row)
}

// UpsertRuntimeDevice records a registration observed on the signaling plane.
// Empty fields never overwrite previously learned values.
func (s *Store) UpsertRuntimeDevice(ctx context.Context, req DeviceUpsertRequest) (*Device, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	transport := NormalizeTransport(req.Transport)
	status := req.Status
	if status == "" {
		status = DeviceStatusUnknown
	}
	name := strings.TrimSpace(req.Name)
	expires := req.Expires
	if expires <= 0 {
		expires = 3600
	}

	current, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	registerAt := nullableTime(req.RegisterAt)
	keepaliveAt := nullableTime(req.LastKeepaliveAt)

	if current == nil {
		if name == "" {
			name = deviceID
		}
		result, insertErr := s.db.ExecContext(ctx, `INSERT INTO devices (
			device_id, name, device_type, auth_password, ip_address, port, transport, status, expires,
			register_at, last_keepalive_at, manufacturer, model, firmware, created_at, updated_at
		) VALUES (?, ?, 'GB28181', '', ?, ?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`,
			deviceID,
			name,
			strings.TrimSpace(req.IPAddress),
			req.Port,
			transport,
			status,
			expires,
			registerAt,
			keepaliveAt,
			now.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
		)
		if insertErr != nil {
			return nil, insertErr
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return nil, idErr
		}
		return s.GetDeviceByID(ctx, id)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE devices SET
		name = COALESCE(NULLIF(?, ''), name),
		ip_address = COALESCE(NULLIF(?, ''), ip_address),
		port = ?,
		transport = ?,
		status = ?,
		expires = ?,
		register_at = COALESCE(?, register_at),
		last_keepalive_at = COALESCE(?, last_keepalive_at),
		updated_at = ?
	WHERE id = ?`,
		name,
		strings.TrimSpace(req.IPAddress),
		req.Port,
		transport,
		status,
		expires,
		registerAt,
		keepaliveAt,
		now.Format(time.RFC3339Nano),
		current.ID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetDeviceByID(ctx, current.ID)
}

func (s *Store) TouchDeviceKeepalive(ctx context.Context, deviceID string, remoteIP string, remotePort int) error {
	current, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET
		status=?,
		ip_address=COALESCE(NULLIF(?, ''), ip_address),
		port=CASE WHEN ? > 0 THEN ? ELSE port END,
		last_keepalive_at=?,
		updated_at=?
	WHERE id=?`,
		DeviceStatusOnline,
		strings.TrimSpace(remoteIP),
		remotePort,
		remotePort,
		now,
		now,
		current.ID,
	)
	return err
}

// UpdateDeviceInfo merges a DeviceInfo response into the device row. Empty
// values keep what was learned before.
func (s *Store) UpdateDeviceInfo(ctx context.Context, deviceID string, name string, manufacturer string, model string, firmware string) error {
	current, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET
		name=COALESCE(NULLIF(?, ''), name),
		manufacturer=COALESCE(NULLIF(?, ''), manufacturer),
		model=COALESCE(NULLIF(?, ''), model),
		firmware=COALESCE(NULLIF(?, ''), firmware),
		updated_at=?
	WHERE id=?`,
		strings.TrimSpace(name),
		strings.TrimSpace(manufacturer),
		strings.TrimSpace(model),
		strings.TrimSpace(firmware),
		now,
		current.ID,
	)
	return err
}

func (s *Store) MarkDeviceOffline(ctx context.Context, deviceID string) error {
	current, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET status=?, updated_at=? WHERE id=?`,
		DeviceStatusOffline, now, current.ID)
	return err
}

// MarkStaleDevicesOffline flips online devices whose last keepalive predates
// the cutoff. Returns the device ids that changed.
func (s *Store) MarkStaleDevicesOffline(ctx context.Context, before time.Time) ([]string, error) {
	at := before.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `SELECT device_id FROM devices
		WHERE status=? AND (last_keepalive_at IS NULL OR last_keepalive_at <= ?)`,
		DeviceStatusOnline, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stale := make([]string, 0, 8)
	for rows.Next() {
		var deviceID string
		if scanErr := rows.Scan(&deviceID); scanErr != nil {
			return nil, scanErr
		}
		stale = append(stale, deviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET status=?, updated_at=?
		WHERE status=? AND (last_keepalive_at IS NULL OR last_keepalive_at <= ?)`,
		DeviceStatusOffline, now, DeviceStatusOnline, at)
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (s *Store) SetDeviceAuthPassword(ctx context.Context, deviceID string, password string) error {
	current, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET auth_password=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(password), now, current.ID)
	return err
}

func (s *Store) DeleteDevices(ctx context.Context, ids []int64) (int64, error) {
	keys := dedupPositiveIDs(ids)
	if len(keys) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, id := range keys {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	in := strings.Join(placeholders, ",")

	var affected int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM device_channels WHERE device_id IN (
			SELECT device_id FROM devices WHERE id IN (`+in+`))`, args...); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id IN (`+in+`)`, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func scanDevice(scanner interface{ Scan(dest ...any) error }) (*Device, error) {
	item := Device{}
	var status string
	var registerAt sql.NullString
	var keepaliveAt sql.NullString
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(
		&item.ID,
		&item.DeviceID,
		&item.Name,
		&item.DeviceType,
		&item.AuthPassword,
		&item.IPAddress,
		&item.Port,
		&item.Transport,
		&status,
		&item.Expires,
		&registerAt,
		&keepaliveAt,
		&item.Manufacturer,
		&item.Model,
		&item.Firmware,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = NormalizeDeviceStatus(status)
	item.Transport = NormalizeTransport(item.Transport)
	if registerAt.Valid {
		value := parseStoredTime(registerAt.String)
		item.RegisterAt = &value
	}
	if keepaliveAt.Valid {
		value := parseStoredTime(keepaliveAt.String)
		item.LastKeepaliveAt = &value
	}
	item.CreatedAt = parseStoredTime(createdAt)
	item.UpdatedAt = parseStoredTime(updatedAt)
	return &item, nil
}

func nullableTime(value *time.Time) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: value.UTC().Format(time.RFC3339Nano), Valid: true}
}

func dedupPositiveIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
