package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// trustFunctionCreators lets templates declare stored functions while
// binary logging is on.
const trustFunctionCreators = "SET GLOBAL log_bin_trust_function_creators = 1"

// Opener opens a database handle; sql.Open in production, sqlmock in tests
type Opener func(driverName, dsn string) (*sql.DB, error)

// Service opens MySQL connections with retry logic and the session settings
// templates depend on.
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              Opener
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              sql.Open,
	}
}

// NewServiceWithOpener creates a service that opens handles through open
func NewServiceWithOpener(logger *logging.Logger, open Opener, retry errors.RetryConfig) *Service {
	s := NewService(logger)
	s.open = open
	s.retryHandler = errors.NewRetryHandler(retry)
	return s
}

// Connect opens the single writer connection used by build, restore and
// prune. The pool is capped at one connection so session state is stable.
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	db, err := s.connect(ctx, config, 1)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, trustFunctionCreators); err != nil {
		// Needs SUPER; templates without stored functions still work.
		s.logger.WithField("error", err.Error()).Warn("Could not enable log_bin_trust_function_creators")
	}

	return db, nil
}

// ConnectReader opens the read connection the exporter streams rows through
func (s *Service) ConnectReader(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	return s.connect(ctx, config, 1)
}

func (s *Service) connect(ctx context.Context, config DatabaseConfig, maxOpen int) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Debug("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = s.open("mysql", config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
		db.SetConnMaxLifetime(time.Hour)

		if pingErr := db.PingContext(ctx); pingErr != nil {
			db.Close()
			return errors.WrapError(pingErr, "failed to ping database")
		}
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeDatabase, "cannot connect to "+config.String(), err).AsFatal()
	}

	return db, nil
}

// Close closes a connection, logging failures
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeDatabase, "database connection is nil", nil)
	}

	var version string
	query := "SELECT VERSION()"
	startTime := time.Now()

	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	return version, nil
}
