package persist

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	snapshotExt = ".snap"
)

// FileSystemStore implements Store on the local filesystem. Writes go through
// a temp file and rename so readers never observe a partial snapshot.
type FileSystemStore struct {
	mu       sync.Mutex
	basePath string
}

// NewFileSystemStore initializes and returns a new FileSystemStore rooted at
// basePath, creating the directory if necessary.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required for filesystem store")
	}
	if err := os.MkdirAll(basePath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}
	return &FileSystemStore{basePath: basePath}, nil
}

func (fs *FileSystemStore) snapshotPath(name string) (string, error) {
	if err := validateSnapshotName(name); err != nil {
		return "", err
	}
	// Nested names like audit/2026-08-29 map to subdirectories.
	return filepath.Join(fs.basePath, filepath.FromSlash(name)+snapshotExt), nil
}

func (fs *FileSystemStore) SnapshotExists(name string) (bool, error) {
	path, err := fs.snapshotPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (fs *FileSystemStore) SaveSnapshot(name string, data []byte, expectedVersion string) (string, error) {
	path, err := fs.snapshotPath(name)
	if err != nil {
		return "", err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	current, err := fs.currentVersion(path)
	if err != nil {
		return "", err
	}
	if current != expectedVersion {
		return "", ConcurrencyError{Name: name, ExpectedVersion: expectedVersion, ActualVersion: current}
	}

	if err = os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err = writeSecureFile(path, data, FilePermissions); err != nil {
		return "", fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	return calculateVersion(data), nil
}

func (fs *FileSystemStore) LoadSnapshot(name string) (*VersionedData, error) {
	path, err := fs.snapshotPath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s not found", name)
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	return &VersionedData{
		Data:      data,
		Version:   calculateVersion(data),
		Timestamp: info.ModTime(),
	}, nil
}

func (fs *FileSystemStore) DeleteSnapshot(name string) error {
	path, err := fs.snapshotPath(name)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err = os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %s not found", name)
		}
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return nil
}

func (fs *FileSystemStore) ListSnapshots() ([]string, error) {
	var names []string
	err := filepath.Walk(fs.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, snapshotExt) {
			return nil
		}
		rel, err := filepath.Rel(fs.basePath, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), snapshotExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FileSystemStore) Ping() error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("store path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", fs.basePath)
	}
	return nil
}

func (fs *FileSystemStore) Close() error { return nil }

func (fs *FileSystemStore) Type() string { return string(StoreTypeFileSystem) }

func (fs *FileSystemStore) currentVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return calculateVersion(data), nil
}

func calculateVersion(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

func validateSnapshotName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid snapshot name: %s", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '/':
		default:
			return fmt.Errorf("invalid character %q in snapshot name", r)
		}
	}
	return nil
}

func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
