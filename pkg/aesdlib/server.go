// Package aesdlib runs the aesdsocket packet log server inside another program.
package aesdlib

import (
	"context"
	"errors"
	"net"
)

// Server represents a packet log server
type Server interface {
	// Start binds the listen address and serves until Stop or ctx is done
	Start(ctx context.Context) error
	// Stop stops the server gracefully and removes the packet log
	Stop()
	// Addr returns the bound address, nil before Start has bound it
	Addr() net.Addr
}

// NewServer creates a new server with the given configuration
func NewServer(cfg *Config) (Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newServer(cfg), nil
}

// Validate fills in defaults and validates the configuration
func (c *Config) Validate() error {
	return validateConfig(c)
}

var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)
