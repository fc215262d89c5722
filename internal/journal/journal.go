// Package journal keeps an append-only audit log of admin mutations.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/tierbot/internal/model"
	"github.com/devrev/tierbot/internal/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds journal configuration
type Config struct {
	Path       string
	SyncWrites bool
}

// Journal appends one JSON line per admin mutation
type Journal struct {
	config *Config
	file   *os.File
	logger *zap.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// Open opens (or creates) the journal file for appending
func Open(cfg *Config, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	logger.Info("Opened admin journal", zap.String("path", cfg.Path))

	return &Journal{
		config: cfg,
		file:   file,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Append stamps entry with an id, timestamp and checksum and writes it
func (j *Journal) Append(ctx context.Context, entry model.JournalEntry) (model.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return entry, fmt.Errorf("journal is closed")
	}

	entry.ID = uuid.NewString()
	entry.Timestamp = j.now().UTC()
	entry.Checksum = 0

	sum, err := util.CanonicalChecksum(entry)
	if err != nil {
		return entry, err
	}
	entry.Checksum = sum

	data, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return entry, fmt.Errorf("failed to write journal entry: %w", err)
	}

	if j.config.SyncWrites {
		if err := j.file.Sync(); err != nil {
			return entry, fmt.Errorf("failed to sync journal: %w", err)
		}
	}

	return entry, nil
}

// Close closes the journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Tail returns the last n valid entries in path, oldest first. Lines that
// fail to parse or verify are skipped.
func Tail(path string, n int, logger *zap.Logger) ([]model.JournalEntry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var entries []model.JournalEntry
	scanner := bufio.NewScanner(file)
	line := 0

	for scanner.Scan() {
		line++

		var entry model.JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			logger.Warn("Skipping unreadable journal line", zap.Int("line", line), zap.Error(err))
			continue
		}

		expected := entry.Checksum
		entry.Checksum = 0
		sum, err := util.CanonicalChecksum(entry)
		if err != nil || sum != expected {
			logger.Warn("Skipping journal line with bad checksum", zap.Int("line", line))
			continue
		}
		entry.Checksum = expected

		entries = append(entries, entry)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}

	if err := scanner.Err(); err != nil {
		return entries, err
	}

	return entries, nil
}
