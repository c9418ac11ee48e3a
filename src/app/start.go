package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/txkernel/src"
)

// Entrypoint wires configuration, logging and the database for the CLI.
type Entrypoint struct {
	ConfigPath string
	Config     Config
	// SkipRecovery opens an existing database without rolling back
	// unfinished transactions.
	SkipRecovery bool

	db       *Database
	log      src.Logger
	registry *prometheus.Registry
}

func (e *Entrypoint) Init(_ context.Context) error {
	cfg, err := LoadConfig(e.ConfigPath)
	if err != nil {
		return err
	}
	if e.SkipRecovery {
		cfg.RecoverOnOpen = false
	}
	e.Config = cfg

	log, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	e.log = log

	e.registry = prometheus.NewRegistry()
	db, err := Open(afero.NewOsFs(), cfg, log, e.registry)
	if err != nil {
		return err
	}
	e.db = db

	return nil
}

func (e *Entrypoint) DB() *Database {
	return e.db
}

func (e *Entrypoint) Log() src.Logger {
	return e.log
}

// Registry holds the metrics of the opened database.
func (e *Entrypoint) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Entrypoint) Close() (err error) {
	if e.db != nil {
		err = e.db.Close()
	}

	if e.log != nil {
		if err != nil {
			e.log.Errorw("failed to close database", "error", err)
		}

		logErr := e.log.Sync()
		// stderr and stdout can't be fsynced when they are terminals
		if errors.Is(logErr, syscall.EINVAL) || errors.Is(logErr, syscall.ENOTTY) {
			logErr = nil
		}
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
