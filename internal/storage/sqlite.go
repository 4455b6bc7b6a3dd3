package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/phoned/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "phoned.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{db: db, path: dbPath}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return ss, nil
}

func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// SaveDiscoveredDevices replaces the stored snapshot with the given run's
// devices in one transaction.
func (ss *SQLiteStorage) SaveDiscoveredDevices(devices []model.DiscoveredDevice) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM discovered_devices`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO discovered_devices
			(key, ip, mac, hostname, vendor, model, port_id, vlan,
			 capabilities, open_ports, source, last_seen, online, registered, extension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range devices {
		caps, _ := json.Marshal(d.Capabilities)
		ports, _ := json.Marshal(d.OpenPorts)
		if _, err := stmt.Exec(d.Key(), d.IP, d.MAC, d.Hostname, d.Vendor, d.Model,
			d.PortID, d.VLAN, string(caps), string(ports), d.Source,
			d.LastSeen, d.Online, d.Registered, d.Extension); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDiscoveredDevices returns the latest snapshot ordered by IP.
func (ss *SQLiteStorage) ListDiscoveredDevices() ([]model.DiscoveredDevice, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT ip, mac, hostname, vendor, model, port_id, vlan,
		       capabilities, open_ports, source, last_seen, online, registered, extension
		FROM discovered_devices ORDER BY ip`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []model.DiscoveredDevice
	for rows.Next() {
		var d model.DiscoveredDevice
		var caps, ports string
		if err := rows.Scan(&d.IP, &d.MAC, &d.Hostname, &d.Vendor, &d.Model,
			&d.PortID, &d.VLAN, &caps, &ports, &d.Source,
			&d.LastSeen, &d.Online, &d.Registered, &d.Extension); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(caps), &d.Capabilities)
		json.Unmarshal([]byte(ports), &d.OpenPorts)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertRemoteDevice creates or updates an ACS device record keyed by serial.
func (ss *SQLiteStorage) UpsertRemoteDevice(device *model.RemoteDevice) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	params, _ := json.Marshal(device.Parameters)
	_, err := ss.db.Exec(`
		INSERT INTO remote_devices
			(serial_number, manufacturer, model, firmware, last_inform, callback_url, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial_number) DO UPDATE SET
			manufacturer = excluded.manufacturer,
			model        = excluded.model,
			firmware     = excluded.firmware,
			last_inform  = excluded.last_inform,
			callback_url = excluded.callback_url,
			parameters   = excluded.parameters`,
		device.SerialNumber, device.Manufacturer, device.Model, device.Firmware,
		device.LastInform, device.CallbackURL, string(params))
	return err
}

// GetRemoteDevice fetches an ACS device by serial number.
func (ss *SQLiteStorage) GetRemoteDevice(serial string) (*model.RemoteDevice, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT serial_number, manufacturer, model, firmware, last_inform, callback_url, parameters
		FROM remote_devices WHERE serial_number = ?`, serial)

	device, err := scanRemoteDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrRemoteDeviceNotFound
	}
	return device, err
}

// ListRemoteDevices returns all ACS devices ordered by serial number.
func (ss *SQLiteStorage) ListRemoteDevices() ([]model.RemoteDevice, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT serial_number, manufacturer, model, firmware, last_inform, callback_url, parameters
		FROM remote_devices ORDER BY serial_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []model.RemoteDevice
	for rows.Next() {
		device, err := scanRemoteDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRemoteDevice(row rowScanner) (*model.RemoteDevice, error) {
	var d model.RemoteDevice
	var params string
	if err := row.Scan(&d.SerialNumber, &d.Manufacturer, &d.Model, &d.Firmware,
		&d.LastInform, &d.CallbackURL, &params); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(params), &d.Parameters)
	return &d, nil
}

// CreatePendingRequest queues a parameter change for a remote device.
func (ss *SQLiteStorage) CreatePendingRequest(req *model.PendingRequest) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	params, _ := json.Marshal(req.Parameters)
	_, err := ss.db.Exec(`
		INSERT INTO pending_requests (id, serial_number, parameters, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.SerialNumber, string(params), req.Status, req.CreatedAt)
	return err
}

// GetPendingRequest fetches a queued request by correlation id.
func (ss *SQLiteStorage) GetPendingRequest(id string) (*model.PendingRequest, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	row := ss.db.QueryRow(`
		SELECT id, serial_number, parameters, status, created_at, resolved_at
		FROM pending_requests WHERE id = ?`, id)

	req, err := scanPendingRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrPendingRequestNotFound
	}
	return req, err
}

// ListPendingRequests returns requests for a serial, optionally filtered by
// status, oldest first.
func (ss *SQLiteStorage) ListPendingRequests(serial, status string) ([]model.PendingRequest, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `SELECT id, serial_number, parameters, status, created_at, resolved_at
		FROM pending_requests WHERE serial_number = ?`
	args := []any{serial}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.PendingRequest
	for rows.Next() {
		req, err := scanPendingRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanPendingRequest(row rowScanner) (*model.PendingRequest, error) {
	var r model.PendingRequest
	var params string
	var resolved sql.NullTime
	if err := row.Scan(&r.ID, &r.SerialNumber, &params, &r.Status, &r.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(params), &r.Parameters)
	if resolved.Valid {
		t := resolved.Time
		r.ResolvedAt = &t
	}
	return &r, nil
}

// ResolvePendingRequest marks a queued request applied or failed.
func (ss *SQLiteStorage) ResolvePendingRequest(id, status string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	res, err := ss.db.Exec(`
		UPDATE pending_requests SET status = ?, resolved_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPendingRequestNotFound
	}
	return nil
}
