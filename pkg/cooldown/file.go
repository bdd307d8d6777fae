package cooldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileManager persists the cooldown window as a small JSON record on the
// local filesystem. It is the default backend for single-host installs; the
// record conventionally lives under /run so a host reboot clears it.
type FileManager struct {
	path string
	host string
	now  func() time.Time
}

type fileRecord struct {
	Host        string `json:"host"`
	StartedAt   string `json:"started_at"`
	DurationSec int64  `json:"duration_sec"`
}

// NewFileManager constructs a file-backed cooldown manager writing to path,
// attributing new windows to host.
func NewFileManager(path, host string) (*FileManager, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("cooldown file manager requires a path")
	}
	hostName := strings.TrimSpace(host)
	if hostName == "" {
		return nil, errors.New("cooldown file manager requires a host name")
	}
	return &FileManager{path: trimmed, host: hostName, now: time.Now}, nil
}

// WithClock overrides the manager's time source.
func (m *FileManager) WithClock(clock func() time.Time) *FileManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Status implements Manager.
func (m *FileManager) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	payload, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("read cooldown file: %w", err)
	}

	var record fileRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return Status{}, fmt.Errorf("parse cooldown file %s: %w", m.path, err)
	}
	startedAt, err := time.Parse(time.RFC3339Nano, record.StartedAt)
	if err != nil {
		return Status{}, fmt.Errorf("parse cooldown start timestamp: %w", err)
	}
	if record.DurationSec <= 0 {
		return Status{}, nil
	}
	expiresAt := startedAt.Add(time.Duration(record.DurationSec) * time.Second)
	remaining := expiresAt.Sub(m.now())
	if remaining <= 0 {
		return Status{}, nil
	}
	return Status{
		Active:    true,
		Host:      record.Host,
		StartedAt: startedAt,
		ExpiresAt: expiresAt,
		Remaining: remaining,
	}, nil
}

// Start implements Manager.
func (m *FileManager) Start(ctx context.Context, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if duration <= 0 {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear cooldown file: %w", err)
		}
		return nil
	}

	seconds := int64(duration.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	record := fileRecord{
		Host:        m.host,
		StartedAt:   m.now().UTC().Format(time.RFC3339Nano),
		DurationSec: seconds,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create cooldown directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".cooldown-*")
	if err != nil {
		return fmt.Errorf("create cooldown temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write cooldown temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close cooldown temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish cooldown file: %w", err)
	}
	return nil
}

// Close implements Manager.
func (m *FileManager) Close() error { return nil }

var _ Manager = (*FileManager)(nil)
