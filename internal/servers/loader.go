package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"trafficwatch/internal/models"
)

// ErrServerListLoad aborts a poll cycle
var ErrServerListLoad = errors.New("failed to load server list")

// Loader returns the current server list
type Loader interface {
	Load(ctx context.Context) ([]models.ServerConfig, error)
}

// FileLoader reads a JSON array of {"name", "url"} objects on every call
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for path
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the file the loader reads
func (l *FileLoader) Path() string { return l.path }

// Load reads and validates the server list. Every failure wraps ErrServerListLoad.
func (l *FileLoader) Load(ctx context.Context) ([]models.ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerListLoad, err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerListLoad, err)
	}

	return Parse(data)
}

// Parse decodes and validates a server list document
func Parse(data []byte) ([]models.ServerConfig, error) {
	var list []models.ServerConfig
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrServerListLoad, err)
	}
	if err := models.ValidateServers(list); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerListLoad, err)
	}
	return list, nil
}

// StaticLoader always returns the same list
type StaticLoader []models.ServerConfig

// Load returns a copy of the list
func (s StaticLoader) Load(ctx context.Context) ([]models.ServerConfig, error) {
	out := make([]models.ServerConfig, len(s))
	copy(out, s)
	return out, nil
}
