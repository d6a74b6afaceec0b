package jkbms

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// RecordedDevice is a row of the bms_devices audit table.
type RecordedDevice struct {
	Address        Address   `json:"address"`
	DeviceID       string    `json:"device_id"`
	CellCount      int       `json:"cell_count"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	SettingsFrames int64     `json:"settings_frames"`
	CellInfoFrames int64     `json:"cell_info_frames"`
}

// Recorder keeps an audit trail of the BMS units seen on the bus.
// It is never read back into the Registry: after a restart devices are
// registered again from their Settings frames.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	// Prepared upsert (created once, reused)
	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// NewRecorder creates a recorder. The database must have the bms_devices table.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before RecordFrame.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil // Already started
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO bms_devices (address, device_id, cell_count, first_seen, last_seen, settings_frames, cell_info_frames)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			cell_count = excluded.cell_count,
			last_seen = excluded.last_seen,
			settings_frames = settings_frames + excluded.settings_frames,
			cell_info_frames = cell_info_frames + excluded.cell_info_frames
	`)
	if err != nil {
		return fmt.Errorf("preparing device upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.log("frame recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
		r.log("frame recorder stopped")
	}
}

// RecordFrame records one decoded frame for the device at addr.
// Implements FrameRecorder.
func (r *Recorder) RecordFrame(addr Address, frameType FrameType, cellCount int) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return // Not started
	}

	var settings, cellInfo int
	switch frameType {
	case FrameTypeSettings:
		settings = 1
	case FrameTypeCellInfo:
		cellInfo = 1
	}

	now := time.Now().Unix()
	if _, err := stmt.Exec(int(addr), addr.DeviceID(), cellCount, now, now, settings, cellInfo); err != nil {
		r.logError("recording frame", fmt.Errorf("address=%s: %w", addr, err))
	}
}

// Devices returns every recorded device, ordered by address.
func (r *Recorder) Devices(ctx context.Context) ([]RecordedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, device_id, cell_count, first_seen, last_seen, settings_frames, cell_info_frames
		FROM bms_devices
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []RecordedDevice
	for rows.Next() {
		var (
			d               RecordedDevice
			addr            int
			first, lastSeen int64
		)
		if err := rows.Scan(&addr, &d.DeviceID, &d.CellCount, &first, &lastSeen, &d.SettingsFrames, &d.CellInfoFrames); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		d.Address = Address(addr)
		d.FirstSeen = time.Unix(first, 0).UTC()
		d.LastSeen = time.Unix(lastSeen, 0).UTC()
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// DeviceCount returns the number of recorded devices.
func (r *Recorder) DeviceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bms_devices`).Scan(&count)
	return count, err
}

// log logs an info message if logger is set.
func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
