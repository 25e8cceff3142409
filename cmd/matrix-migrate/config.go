// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Every field has a
// matching command-line flag; flags win when both are set. There is
// no automatic config discovery — the file is only read when --config
// names it.
type Config struct {
	From AccountConfig `yaml:"from"`
	To   AccountConfig `yaml:"to"`

	// Rooms and RoomsExcluded are glob patterns matched against
	// room IDs and display names.
	Rooms         []string `yaml:"rooms,omitempty"`
	RoomsExcluded []string `yaml:"rooms_excluded,omitempty"`

	// LeaveRooms removes the source account from migrated rooms.
	LeaveRooms bool `yaml:"leave_rooms,omitempty"`

	// TimeoutSeconds bounds each protocol call.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// Workers bounds concurrent room migrations.
	Workers int `yaml:"workers,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
}

// AccountConfig describes one side of the migration.
type AccountConfig struct {
	// User is the fully qualified user ID (@user:server).
	User string `yaml:"user"`

	// Homeserver is the client API base URL. When empty, the
	// server is discovered from the user ID's server name.
	Homeserver string `yaml:"homeserver,omitempty"`

	// PasswordFile is a path to the account password, or "-" for
	// stdin. When empty, the FROM_PASSWORD / TO_PASSWORD
	// environment variable or an interactive prompt is used.
	PasswordFile string `yaml:"password_file,omitempty"`
}

// LoadConfig reads and parses the YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &config, nil
}
