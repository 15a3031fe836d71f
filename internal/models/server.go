package models

import (
	"errors"
	"fmt"
	"strings"
)

// ServerConfig identifies one monitored server. Name is unique within a list.
type ServerConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Server list validation errors
var (
	ErrEmptyServerName = errors.New("server name cannot be empty")
	ErrEmptyServerURL  = errors.New("server url cannot be empty")
	ErrDuplicateServer = errors.New("duplicate server name")
)

// Normalize trims surrounding whitespace from name and url
func (s *ServerConfig) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
}

// Validate checks that the required fields are set
func (s ServerConfig) Validate() error {
	if s.Name == "" {
		return ErrEmptyServerName
	}
	if s.URL == "" {
		return ErrEmptyServerURL
	}
	return nil
}

// ValidateServers normalizes every entry in place and rejects lists with
// empty fields or repeated names.
func ValidateServers(servers []ServerConfig) error {
	seen := make(map[string]int, len(servers))
	for i := range servers {
		servers[i].Normalize()
		if err := servers[i].Validate(); err != nil {
			return fmt.Errorf("server #%d: %w", i, err)
		}
		if prev, ok := seen[servers[i].Name]; ok {
			return fmt.Errorf("%w: %q at #%d and #%d", ErrDuplicateServer, servers[i].Name, prev, i)
		}
		seen[servers[i].Name] = i
	}
	return nil
}

// Names returns the server names in list order
func Names(servers []ServerConfig) []string {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	return names
}
