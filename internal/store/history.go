package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"hwpulse/internal/monitoring"
)

// Header is the first line of every history file.
var Header = []string{
	"Timestamp", "CPU_%", "CPU_Temp", "RAM_%", "RAM_Used", "RAM_Total",
	"Disk_%", "Disk_Used", "Disk_Total", "Net_KB_s", "LAN_Speed", "WiFi_Speed",
	"GPU_%", "GPU_Temp", "GPU_Mem_Used", "GPU_Mem_Total", "Alerts",
}

const alertSeparator = "; "

// Record is the reduced projection of a snapshot kept in history.
type Record struct {
	Timestamp     string   `json:"timestamp"`
	CPUPercent    float64  `json:"cpu_percent"`
	CPUTempC      float64  `json:"cpu_temp_c"`
	RAMPercent    float64  `json:"ram_percent"`
	RAMUsedGB     float64  `json:"ram_used_gb"`
	RAMTotalGB    float64  `json:"ram_total_gb"`
	DiskPercent   float64  `json:"disk_percent"`
	DiskUsedGB    float64  `json:"disk_used_gb"`
	DiskTotalGB   float64  `json:"disk_total_gb"`
	NetKBSec      float64  `json:"net_kb_sec"`
	LANSpeed      string   `json:"lan_speed"`
	WiFiSpeed     string   `json:"wifi_speed"`
	GPUPercent    float64  `json:"gpu_percent"`
	GPUTempC      float64  `json:"gpu_temp_c"`
	GPUMemUsedGB  float64  `json:"gpu_mem_used_gb"`
	GPUMemTotalGB float64  `json:"gpu_mem_total_gb"`
	Alerts        []string `json:"alerts"`
}

// RecordFromSnapshot projects a snapshot onto a history record. Disk
// figures are aggregated over all drives.
func RecordFromSnapshot(snap monitoring.Snapshot) Record {
	snap = snap.Normalize()
	diskPercent, diskUsed, diskTotal := snap.Disk.DiskTotals()

	return Record{
		Timestamp:     snap.Timestamp,
		CPUPercent:    snap.CPU.Percent,
		CPUTempC:      snap.CPU.TemperatureC,
		RAMPercent:    snap.RAM.Percent,
		RAMUsedGB:     snap.RAM.UsedGB,
		RAMTotalGB:    snap.RAM.TotalGB,
		DiskPercent:   diskPercent,
		DiskUsedGB:    diskUsed,
		DiskTotalGB:   diskTotal,
		NetKBSec:      snap.Network.TotalKBSec,
		LANSpeed:      snap.Network.LANSpeed,
		WiFiSpeed:     snap.Network.WiFiSpeed,
		GPUPercent:    snap.GPU.UsagePercent,
		GPUTempC:      snap.GPU.TemperatureC,
		GPUMemUsedGB:  snap.GPU.MemoryUsedGB,
		GPUMemTotalGB: snap.GPU.MemoryTotalGB,
		Alerts:        snap.Alerts,
	}
}

// sanitize keeps free text from introducing extra columns.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Row renders the record in Header column order.
func (r Record) Row() []string {
	alerts := make([]string, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		alerts = append(alerts, sanitize(a))
	}

	return []string{
		sanitize(r.Timestamp),
		formatFloat(r.CPUPercent),
		formatFloat(r.CPUTempC),
		formatFloat(r.RAMPercent),
		formatFloat(r.RAMUsedGB),
		formatFloat(r.RAMTotalGB),
		formatFloat(r.DiskPercent),
		formatFloat(r.DiskUsedGB),
		formatFloat(r.DiskTotalGB),
		formatFloat(r.NetKBSec),
		sanitize(r.LANSpeed),
		sanitize(r.WiFiSpeed),
		formatFloat(r.GPUPercent),
		formatFloat(r.GPUTempC),
		formatFloat(r.GPUMemUsedGB),
		formatFloat(r.GPUMemTotalGB),
		strings.Join(alerts, alertSeparator),
	}
}

// ParseRow reads a history row by column position.
func ParseRow(fields []string) (Record, error) {
	if len(fields) != len(Header) {
		return Record{}, fmt.Errorf("history row has %d columns, want %d", len(fields), len(Header))
	}

	numbers := make([]float64, len(fields))
	for _, i := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 12, 13, 14, 15} {
		v, err := cast.ToFloat64E(strings.TrimSpace(fields[i]))
		if err != nil {
			return Record{}, fmt.Errorf("column %s: %w", Header[i], err)
		}
		numbers[i] = v
	}

	alerts := []string{}
	if strings.TrimSpace(fields[16]) != "" {
		alerts = strings.Split(fields[16], alertSeparator)
	}

	return Record{
		Timestamp:     fields[0],
		CPUPercent:    numbers[1],
		CPUTempC:      numbers[2],
		RAMPercent:    numbers[3],
		RAMUsedGB:     numbers[4],
		RAMTotalGB:    numbers[5],
		DiskPercent:   numbers[6],
		DiskUsedGB:    numbers[7],
		DiskTotalGB:   numbers[8],
		NetKBSec:      numbers[9],
		LANSpeed:      fields[10],
		WiFiSpeed:     fields[11],
		GPUPercent:    numbers[12],
		GPUTempC:      numbers[13],
		GPUMemUsedGB:  numbers[14],
		GPUMemTotalGB: numbers[15],
		Alerts:        alerts,
	}, nil
}

// History appends one row per cycle to a CSV file and keeps it bounded.
// It is owned by a single writer.
type History struct {
	path      string
	maxRows   int
	trimEvery int
	appends   int
	logger    *slog.Logger
}

// OpenHistory prepares the history file: it is created with a header when
// absent, moved aside when its header does not match, and trimmed.
func OpenHistory(path string, maxRows, trimEvery int, logger *slog.Logger) (*History, error) {
	if maxRows <= 0 {
		maxRows = 1440
	}
	if trimEvery <= 0 {
		trimEvery = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{
		path:      path,
		maxRows:   maxRows,
		trimEvery: trimEvery,
		logger:    logger,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	first, err := readFirstLine(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && first == ""):
		if err := h.writeLines(nil); err != nil {
			return nil, err
		}
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("reading history: %w", err)
	case first != strings.Join(Header, ","):
		aside := path + ".bak"
		logger.Warn("history header mismatch, starting a new file", "path", path, "moved_to", aside)
		if err := os.Rename(path, aside); err != nil {
			return nil, fmt.Errorf("moving old history aside: %w", err)
		}
		if err := h.writeLines(nil); err != nil {
			return nil, err
		}
		return h, nil
	}

	if err := h.Trim(); err != nil {
		return nil, err
	}
	return h, nil
}

// Path returns the history file location.
func (h *History) Path() string {
	return h.path
}

// Append writes the record for snap and trims every trimEvery appends, so
// the file holds at most maxRows+trimEvery-1 rows.
func (h *History) Append(snap monitoring.Snapshot) error {
	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("opening history: %w", err)
	}

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		w.Write(Header)
	}
	w.Write(RecordFromSnapshot(snap).Row())
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("appending history: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing history: %w", err)
	}

	h.appends++
	if h.appends%h.trimEvery == 0 {
		return h.Trim()
	}
	return nil
}

// Trim rewrites the file to the header plus the newest maxRows rows.
func (h *History) Trim() error {
	lines, err := readLines(h.path)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(lines) <= 1 {
		return nil
	}

	rows := lines[1:]
	if len(rows) <= h.maxRows {
		return nil
	}
	dropped := len(rows) - h.maxRows
	h.logger.Debug("trimming history", "dropped_rows", dropped, "kept_rows", h.maxRows)
	return h.writeLines(rows[dropped:])
}

func (h *History) writeLines(rows []string) error {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(Header, ","))
	buf.WriteByte('\n')
	for _, row := range rows {
		buf.WriteString(row)
		buf.WriteByte('\n')
	}
	if err := WriteFileAtomic(h.path, buf.Bytes()); err != nil {
		return fmt.Errorf("rewriting history: %w", err)
	}
	return nil
}

func readFirstLine(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// ReadHistory returns up to limit of the newest parseable records in
// path. Rows that fail to parse are skipped. A limit <= 0 returns all.
func ReadHistory(path string, limit int) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records := []Record{}
	first := true
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		if first {
			first = false
			if len(fields) > 0 && fields[0] == Header[0] {
				continue
			}
		}
		record, err := ParseRow(fields)
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
