// Package database mirrors history records into a bounded sqlite archive.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hwpulse/internal/store"
)

// Archive is an optional second sink for history records. It keeps at most
// maxRows rows, dropping the oldest.
type Archive struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
}

// EnsureDir creates the directory holding the database file.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// Open connects to the archive at path and creates its schema.
func Open(path string, maxRows int, logger *slog.Logger) (*Archive, error) {
	if maxRows <= 0 {
		maxRows = 1440
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := EnsureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	// 단일 writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to archive: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("history archive opened", "path", path, "max_rows", maxRows)
	return &Archive{db: db, maxRows: maxRows, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS history_records (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  timestamp TEXT NOT NULL,
		  cpu_percent REAL NOT NULL,
		  cpu_temp_c REAL NOT NULL,
		  ram_percent REAL NOT NULL,
		  ram_used_gb REAL NOT NULL,
		  ram_total_gb REAL NOT NULL,
		  disk_percent REAL NOT NULL,
		  disk_used_gb REAL NOT NULL,
		  disk_total_gb REAL NOT NULL,
		  net_kb_sec REAL NOT NULL,
		  lan_speed TEXT NOT NULL,
		  wifi_speed TEXT NOT NULL,
		  gpu_percent REAL NOT NULL,
		  gpu_temp_c REAL NOT NULL,
		  gpu_mem_used_gb REAL NOT NULL,
		  gpu_mem_total_gb REAL NOT NULL,
		  alerts TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_records_timestamp ON history_records(timestamp);`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("creating archive schema: %w", err)
		}
	}
	return nil
}

// Append inserts r and drops rows beyond the cap in the same transaction.
func (a *Archive) Append(ctx context.Context, r store.Record) error {
	alerts := r.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("encoding alerts: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO history_records (
		timestamp, cpu_percent, cpu_temp_c, ram_percent, ram_used_gb, ram_total_gb,
		disk_percent, disk_used_gb, disk_total_gb, net_kb_sec, lan_speed, wifi_speed,
		gpu_percent, gpu_temp_c, gpu_mem_used_gb, gpu_mem_total_gb, alerts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.CPUPercent, r.CPUTempC, r.RAMPercent, r.RAMUsedGB, r.RAMTotalGB,
		r.DiskPercent, r.DiskUsedGB, r.DiskTotalGB, r.NetKBSec, r.LANSpeed, r.WiFiSpeed,
		r.GPUPercent, r.GPUTempC, r.GPUMemUsedGB, r.GPUMemTotalGB, string(alertsJSON))
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM history_records WHERE id <= (SELECT MAX(id) FROM history_records) - ?`, a.maxRows)
	if err != nil {
		return fmt.Errorf("trimming archive: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		a.logger.Debug("archive trimmed", "dropped_rows", n)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive transaction: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest records, oldest first. A limit
// <= 0 returns everything.
func (a *Archive) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := a.db.QueryContext(ctx, `
	SELECT timestamp, cpu_percent, cpu_temp_c, ram_percent, ram_used_gb, ram_total_gb,
		disk_percent, disk_used_gb, disk_total_gb, net_kb_sec, lan_speed, wifi_speed,
		gpu_percent, gpu_temp_c, gpu_mem_used_gb, gpu_mem_total_gb, alerts
	FROM history_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()

	records := []store.Record{}
	for rows.Next() {
		var r store.Record
		var alertsJSON string
		if err := rows.Scan(
			&r.Timestamp, &r.CPUPercent, &r.CPUTempC, &r.RAMPercent, &r.RAMUsedGB, &r.RAMTotalGB,
			&r.DiskPercent, &r.DiskUsedGB, &r.DiskTotalGB, &r.NetKBSec, &r.LANSpeed, &r.WiFiSpeed,
			&r.GPUPercent, &r.GPUTempC, &r.GPUMemUsedGB, &r.GPUMemTotalGB, &alertsJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		if err := json.Unmarshal([]byte(alertsJSON), &r.Alerts); err != nil || r.Alerts == nil {
			r.Alerts = []string{}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Count reports how many records the archive holds.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting archive rows: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
