// config.go - ComLock client configuration.
// Copyright (C) 2025  The ComLock Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the ComLock client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ElMoorish/ComLock/cover"
)

const (
	defaultLogLevel = "NOTICE"

	defaultDeadManDays = 0

	defaultFragmentSize = 512
)

var defaultBudget = cover.BudgetMedium

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level)
	return nil
}

// Cover is the cover traffic configuration.
type Cover struct {
	// Budget selects the anonymity budget: "low", "medium" or "max".
	Budget string
}

func (cCfg *Cover) validate() error {
	switch strings.ToLower(cCfg.Budget) {
	case "low", "medium", "max", "":
	default:
		return fmt.Errorf("config: Cover: Budget '%v' is invalid", cCfg.Budget)
	}
	return nil
}

// ToBudget maps the configured budget string to a cover.Budget.
func (cCfg *Cover) ToBudget() cover.Budget {
	switch strings.ToLower(cCfg.Budget) {
	case "low":
		return cover.BudgetLow
	case "max":
		return cover.BudgetMax
	case "medium":
		return cover.BudgetMedium
	default:
		return defaultBudget
	}
}

// Security is the panic layer configuration.
type Security struct {
	// DeadManDays is the inactivity window in days before auto-wipe;
	// zero disables the dead-man switch.
	DeadManDays int

	// MaxFailedAttempts wipes after this many wrong PINs; zero
	// disables.
	MaxFailedAttempts int
}

func (sCfg *Security) validate() error {
	if sCfg.DeadManDays < 0 {
		return errors.New("config: Security: DeadManDays must be non-negative")
	}
	if sCfg.MaxFailedAttempts < 0 {
		return errors.New("config: Security: MaxFailedAttempts must be non-negative")
	}
	return nil
}

// Transport is the braid transport tuning.
type Transport struct {
	// FragmentSize is the KEM ciphertext fragment payload size.
	FragmentSize int
}

func (tCfg *Transport) validate() error {
	if tCfg.FragmentSize < 0 {
		return errors.New("config: Transport: FragmentSize must be non-negative")
	}
	if tCfg.FragmentSize == 0 {
		tCfg.FragmentSize = defaultFragmentSize
	}
	return nil
}

// Config is the top level ComLock configuration.
type Config struct {
	Logging   *Logging
	Cover     *Cover
	Security  *Security
	Transport *Transport
}

// FixupAndValidate applies defaults and validates the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if c.Cover == nil {
		c.Cover = &Cover{}
	}
	if c.Security == nil {
		c.Security = &Security{DeadManDays: defaultDeadManDays}
	}
	if c.Transport == nil {
		c.Transport = &Transport{}
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Cover.validate(); err != nil {
		return err
	}
	if err := c.Security.validate(); err != nil {
		return err
	}
	return c.Transport.validate()
}

// Load parses and validates the provided buffer b as a config file
// body and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
