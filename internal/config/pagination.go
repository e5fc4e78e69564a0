package config

import "fmt"

// ListConfig bounds the page sizes ListTasks and the audit read endpoint accept.
type ListConfig struct {
	DefaultPageSize int `env:"TASKMESH_DEFAULT_PAGE_SIZE" default:"50"`
	MaxPageSize     int `env:"TASKMESH_MAX_PAGE_SIZE" default:"200"`
}

// Validate validates the list/pagination configuration.
func (c *ListConfig) Validate() error {
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("TASKMESH_MAX_PAGE_SIZE (%d) must be >= TASKMESH_DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	return nil
}
