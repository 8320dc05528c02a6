package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"igfollowers/pkg/logger"
)

const sessionFileSuffix = ".session.json"

// FileCache stores one JSON file per username
type FileCache struct {
	dir string
	log logger.Logger
}

// NewFileCache creates the cache directory if needed. An empty dir uses
// the sessions directory under DataDirectory.
func NewFileCache(dir string, log logger.Logger) (*FileCache, error) {
	if dir == "" {
		dataDir, err := DataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &FileCache{
		dir: dir,
		log: logger.OrDefault(log).WithField("component", "session_file_cache"),
	}, nil
}

func (c *FileCache) Dir() string { return c.dir }

func (c *FileCache) path(username string) (string, error) {
	if username == "" || username == "." || username == ".." || strings.ContainsAny(username, `/\`) {
		return "", fmt.Errorf("invalid session username %q", username)
	}
	return filepath.Join(c.dir, username+sessionFileSuffix), nil
}

// Save writes the record atomically
func (c *FileCache) Save(ctx context.Context, rec *Record) error {
	path, err := c.path(rec.Username)
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rec); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	c.log.DebugWithFields("Session saved", map[string]interface{}{
		"username": rec.Username,
		"path":     path,
	})
	return nil
}

// LoadAll reads every session file. Unreadable files are logged and skipped.
func (c *FileCache) LoadAll(ctx context.Context) ([]*Record, error) {
	paths, err := filepath.Glob(filepath.Join(c.dir, "*"+sessionFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}
	sort.Strings(paths)

	records := make([]*Record, 0, len(paths))
	for _, path := range paths {
		rec, err := readRecord(path)
		if err != nil {
			c.log.WarnWithFields("Skipping unreadable session file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecord(path string) (*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rec Record
	if err := json.NewDecoder(file).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if rec.Username == "" {
		rec.Username = strings.TrimSuffix(filepath.Base(path), sessionFileSuffix)
	}
	return &rec, nil
}

// Delete removes the session file for username
func (c *FileCache) Delete(ctx context.Context, username string) error {
	path, err := c.path(username)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DataDirectory returns the per-user data directory for the current OS
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "igfollowers")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "igfollowers")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "igfollowers")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "igfollowers")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
