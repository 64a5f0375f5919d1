package database

import (
	"context"
	"database/sql"
	"fmt"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// ConnectionManager owns the writer connection used for DDL and the optional
// reader connection the exporter streams rows through.
type ConnectionManager struct {
	service  *Service
	config   DatabaseConfig
	writerDB *sql.DB
	readerDB *sql.DB
	logger   *logging.Logger
}

// NewConnectionManager creates a connection manager for one auxiliary schema
func NewConnectionManager(service *Service, config DatabaseConfig, logger *logging.Logger) *ConnectionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ConnectionManager{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// Writer returns the writer connection, opening it on first use
func (cm *ConnectionManager) Writer(ctx context.Context) (*sql.DB, error) {
	if cm.writerDB != nil {
		return cm.writerDB, nil
	}

	db, err := cm.service.Connect(ctx, cm.config)
	if err != nil {
		return nil, errors.WrapError(err, "failed to connect to auxiliary database")
	}
	cm.writerDB = db
	return db, nil
}

// Reader returns the reader connection, opening it on first use
func (cm *ConnectionManager) Reader(ctx context.Context) (*sql.DB, error) {
	if cm.readerDB != nil {
		return cm.readerDB, nil
	}

	db, err := cm.service.ConnectReader(ctx, cm.config)
	if err != nil {
		return nil, errors.WrapError(err, "failed to open export connection")
	}
	cm.readerDB = db
	return db, nil
}

// Catalog returns table operations bound to the writer connection
func (cm *ConnectionManager) Catalog(ctx context.Context) (*Catalog, error) {
	db, err := cm.Writer(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(db, cm.config.Database, cm.logger), nil
}

// Version returns the server version through the writer connection
func (cm *ConnectionManager) Version(ctx context.Context) (string, error) {
	db, err := cm.Writer(ctx)
	if err != nil {
		return "", err
	}
	return cm.service.GetVersion(ctx, db)
}

// Close closes every open connection
func (cm *ConnectionManager) Close() error {
	var errs []error

	if cm.readerDB != nil {
		if err := cm.service.Close(cm.readerDB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reader connection: %w", err))
		}
		cm.readerDB = nil
	}

	if cm.writerDB != nil {
		if err := cm.service.Close(cm.writerDB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer connection: %w", err))
		}
		cm.writerDB = nil
	}

	return errors.Join(errs...)
}
