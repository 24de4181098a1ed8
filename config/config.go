// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		// Log is the logging config
		Log Logger `yaml:"log"`

		// Database is the database backing the durable timer store.
		// Optional: deployments that only use non-persistent timers can
		// run with the in-memory store and omit this section.
		Database DatabaseConfig `yaml:"database"`

		// Timers is the config for the scheduling/execution engine
		Timers TimersConfig `yaml:"timers"`
	}

	DatabaseConfig struct {
		// SQL is the SQL database config
		SQL *SQL `yaml:"sql"`
	}

	TimersConfig struct {
		// WorkerConcurrency is the number of goroutines executing timeout
		// callbacks and deferred persistence tasks. Fires for distinct timers
		// run in parallel up to this bound; fires for the same timer never do.
		// If not specified then the default value of 10 is used.
		WorkerConcurrency int `yaml:"workerConcurrency"`
		// TaskBufferSize is the size of the buffer between the scheduler and
		// the worker pool. If not specified then the default value of 1000 is used.
		TaskBufferSize int `yaml:"taskBufferSize"`
		// MaxPersistenceRetries divides the remaining time to the next
		// expiration to obtain the retry delay for a failed deferred persist.
		// Note that it does not strictly cap the number of attempts; retrying
		// stops once the next expiration has passed.
		// If not specified then the default value of 10 is used.
		MaxPersistenceRetries int `yaml:"maxPersistenceRetries"`
		// OverdueThreshold controls catch-up on restoration: a single-action
		// timer whose expiration is further in the past than this threshold
		// has its expiration bumped to "now" before being scheduled.
		// If not specified then the default value of 5 minutes is used.
		OverdueThreshold time.Duration `yaml:"overdueThreshold"`
	}
)

// SQL is the SQL database connection config
type SQL struct {
	// ConnectAddr is the remote address of the database, e.g. localhost:5432.
	// Ignored by embedded drivers such as sqlite.
	ConnectAddr string `yaml:"connectAddr"`
	// User is the username to be used for the connection
	User string `yaml:"user"`
	// Password is the password corresponding to the username
	Password string `yaml:"password"`
	// DBName is the name of the database to connect to,
	// or the file path when using sqlite
	DBName string `yaml:"dbName"`
	// DriverName is the sql driver: "postgres" or "sqlite"
	DriverName string `yaml:"driverName"`
}

const (
	DefaultWorkerConcurrency     = 10
	DefaultTaskBufferSize        = 1000
	DefaultMaxPersistenceRetries = 10
	DefaultOverdueThreshold      = 5 * time.Minute
)

// NewConfig returns a new decoded Config object loaded from a yaml file
func NewConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	d := yaml.NewDecoder(file)

	if err := d.Decode(&config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Timers.WorkerConcurrency <= 0 {
		c.Timers.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if c.Timers.TaskBufferSize <= 0 {
		c.Timers.TaskBufferSize = DefaultTaskBufferSize
	}
	if c.Timers.MaxPersistenceRetries <= 0 {
		c.Timers.MaxPersistenceRetries = DefaultMaxPersistenceRetries
	}
	if c.Timers.OverdueThreshold <= 0 {
		c.Timers.OverdueThreshold = DefaultOverdueThreshold
	}
}

func (c *Config) Validate() error {
	if c.Database.SQL != nil {
		sql := c.Database.SQL
		if sql.DriverName == "" {
			return fmt.Errorf("sql driverName is required")
		}
		if sql.DBName == "" {
			return fmt.Errorf("sql dbName is required")
		}
	}
	return nil
}

// String converts the config object into a string for logging
func (c *Config) String() string {
	out, _ := json.Marshal(c)
	return string(out)
}
