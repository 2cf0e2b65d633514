package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"gopkg.in/yaml.v3"
)

// MemoryStorage is process-local key-value storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates empty memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]

	return value, ok, nil
}

// Set stores value under key.
func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value

	return nil
}

// Delete removes key.
func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)

	return nil
}

// FileStorage persists key-value pairs to a YAML file so a token survives
// between CLI invocations.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage creates storage backed by path. The file is created on first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// DefaultStoragePath returns ~/.callapi/storage.yml.
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", constants.ErrConfigDirUnresolved, err)
	}

	return filepath.Join(home, ".callapi", "storage.yml"), nil
}

// Path returns the backing file path.
func (s *FileStorage) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}

	value, ok := values[key]

	return value, ok, nil
}

// Set stores value under key.
func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	values[key] = value

	return s.save(values)
}

// Delete removes key.
func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := values[key]; !ok {
		return nil
	}

	delete(values, key)

	return s.save(values)
}

func (s *FileStorage) load() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}

		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}

	err = yaml.Unmarshal(data, &values)
	if err != nil {
		return nil, fmt.Errorf("failed to parse storage file: %w", err)
	}

	if values == nil {
		values = make(map[string]string)
	}

	return values, nil
}

func (s *FileStorage) save(values map[string]string) error {
	err := os.MkdirAll(filepath.Dir(s.path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}

	err = os.WriteFile(s.path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}

	return nil
}
