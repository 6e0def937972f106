package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

// ErrStateNotFound is returned by Load when no state file has been written yet
var ErrStateNotFound = portfolio.ErrStateNotFound

// DefaultStaleLockAge is how old a foreign lock file must be before it is taken over
const DefaultStaleLockAge = 5 * time.Minute

// FileStorage implements portfolio.StateManager for file-based persistence.
// Writes go to a temp file that is renamed over the state file.
type FileStorage struct {
	mu           sync.RWMutex
	filePath     string
	lockFile     string
	isLocked     bool
	staleLockAge time.Duration
	now          func() time.Time
}

var _ portfolio.StateManager = (*FileStorage)(nil)

type lockInfo struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
}

// StateFileInfo describes the state file on disk
type StateFileInfo struct {
	Path     string    `json:"path"`
	Exists   bool      `json:"exists"`
	Size     int64     `json:"size,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
	Locked   bool      `json:"locked"`
	LockPID  int       `json:"lock_pid,omitempty"`
	LockHost string    `json:"lock_host,omitempty"`
}

// NewFileStorage creates a new file-based state manager
func NewFileStorage(filePath string) (*FileStorage, error) {
	if filePath == "" {
		filePath = "portfolio_state.json"
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	return &FileStorage{
		filePath:     filePath,
		lockFile:     filePath + ".lock",
		staleLockAge: DefaultStaleLockAge,
		now:          time.Now,
	}, nil
}

// Path returns the state file path
func (f *FileStorage) Path() string {
	return f.filePath
}

// SetStaleLockAge overrides DefaultStaleLockAge
func (f *FileStorage) SetStaleLockAge(age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleLockAge = age
}

// Save saves the portfolio state to file
func (f *FileStorage) Save(state *portfolio.PortfolioState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if state == nil {
		return fmt.Errorf("cannot save nil state")
	}

	state.LastUpdated = f.now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio state: %w", err)
	}

	return f.writeAtomic(data)
}

func (f *FileStorage) writeAtomic(data []byte) error {
	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit state file: %w", err)
	}
	return nil
}

// Load loads the portfolio state from file
func (f *FileStorage) Load() (*portfolio.PortfolioState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.readState(f.filePath)
}

func (f *FileStorage) readState(path string) (*portfolio.PortfolioState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio state file: %w", err)
	}

	var state portfolio.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal portfolio state: %w", err)
	}

	if err := validateState(&state); err != nil {
		return nil, fmt.Errorf("invalid portfolio state: %w", err)
	}

	return &state, nil
}

// Lock creates a lock file to prevent a second engine from writing the same
// state file
func (f *FileStorage) Lock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isLocked {
		return fmt.Errorf("storage is already locked")
	}

	if _, err := os.Stat(f.lockFile); err == nil {
		if err := f.checkStaleLock(); err != nil {
			return err
		}
	}

	lockData, err := json.Marshal(lockInfo{
		Timestamp: f.now(),
		PID:       os.Getpid(),
		Hostname:  getHostname(),
	})
	if err != nil {
		return fmt.Errorf("failed to create lock data: %w", err)
	}

	if err := os.WriteFile(f.lockFile, lockData, 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	f.isLocked = true
	return nil
}

// Unlock removes the lock file
func (f *FileStorage) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.isLocked {
		return nil
	}

	if err := os.Remove(f.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	f.isLocked = false
	return nil
}

// IsLocked returns true if this storage holds the lock
func (f *FileStorage) IsLocked() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.isLocked
}

// BackupState copies the current state file next to itself and returns the
// backup path
func (f *FileStorage) BackupState() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.backupLocked()
}

func (f *FileStorage) backupLocked() (string, error) {
	data, err := os.ReadFile(f.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no state file to backup: %w", ErrStateNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state file for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.backup_%s", f.filePath, f.now().Format("20060102_150405.000000000"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	logger.Info(context.Background(), "Portfolio state backed up", "path", backupPath)
	return backupPath, nil
}

// Backups lists backup files for this state file, oldest first
func (f *FileStorage) Backups() ([]string, error) {
	matches, err := filepath.Glob(f.filePath + ".backup_*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// RestoreFromBackup validates a backup and writes it over the state file.
// The current state, if any, is backed up first.
func (f *FileStorage) RestoreFromBackup(backupPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.readState(backupPath); err != nil {
		return fmt.Errorf("invalid backup %s: %w", backupPath, err)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	if _, err := os.Stat(f.filePath); err == nil {
		if _, err := f.backupLocked(); err != nil {
			logger.Warn(context.Background(), "Could not back up current state before restore", "error", err)
		}
	}

	if err := f.writeAtomic(data); err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}

	logger.Info(context.Background(), "Portfolio state restored", "from", backupPath)
	return nil
}

// GetStateFileInfo returns information about the state file
func (f *FileStorage) GetStateFileInfo() (*StateFileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	info := &StateFileInfo{Path: f.filePath}

	fileInfo, err := os.Stat(f.filePath)
	if os.IsNotExist(err) {
		return info, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	info.Exists = true
	info.Size = fileInfo.Size()
	info.Modified = fileInfo.ModTime()

	if lockData, err := os.ReadFile(f.lockFile); err == nil {
		info.Locked = true
		var li lockInfo
		if json.Unmarshal(lockData, &li) == nil {
			info.LockPID = li.PID
			info.LockHost = li.Hostname
		}
	}

	return info, nil
}

// validateState checks the file-level shape. Position-level checks happen
// when the ledger loads the state.
func validateState(state *portfolio.PortfolioState) error {
	if state.Cash.IsNegative() {
		return fmt.Errorf("negative cash: %s", state.Cash)
	}

	if state.Positions == nil {
		state.Positions = make(map[string]*portfolio.PositionState)
	}

	for ticker, position := range state.Positions {
		if position == nil {
			return fmt.Errorf("nil position for ticker: %s", ticker)
		}
	}

	if !state.PortfolioValue.IsZero() {
		derived := state.Cash.Add(state.PositionsValue())
		if !derived.Equal(state.PortfolioValue) {
			logger.Warn(context.Background(), "State portfolio value does not match cash plus positions",
				"saved", state.PortfolioValue.String(), "derived", derived.String())
		}
	}

	return nil
}

func (f *FileStorage) checkStaleLock() error {
	lockData, err := os.ReadFile(f.lockFile)
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var li lockInfo
	if err := json.Unmarshal(lockData, &li); err != nil {
		// Invalid lock file, remove it
		os.Remove(f.lockFile)
		return nil
	}

	if age := f.now().Sub(li.Timestamp); age > f.staleLockAge {
		logger.Warn(context.Background(), "Removing stale lock file", "age", age.String(), "pid", li.PID)
		os.Remove(f.lockFile)
		return nil
	}

	return &portfolio.PortfolioError{
		Code:      portfolio.ErrPortfolioLocked,
		Message:   fmt.Sprintf("state is locked by pid %d on %s", li.PID, li.Hostname),
		Timestamp: f.now(),
	}
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
