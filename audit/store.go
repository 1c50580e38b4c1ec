// Package audit persists an execution ledger: one record per sandbox run,
// keyed by the compiled module's content identity. It is an optional
// collaborator of the pipeline; conversation history and other host state
// stay outside this module.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/codemode/config"
)

// Outcome label values.
const (
	OutcomeOK                = "ok"
	OutcomeExecutionError    = "execution_error"
	OutcomeTimeout           = "timeout"
	OutcomeSecurityViolation = "security_violation"
	OutcomeTypeCheckError    = "typecheck_error"
	OutcomeTranspileError    = "transpile_error"
	OutcomeLimitExceeded     = "limit_exceeded"
)

// Record is one audited sandbox execution.
type Record struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CodeHash   string    `gorm:"size:64;index" json:"code_hash"`
	Outcome    string    `gorm:"size:32;index" json:"outcome"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// Store records and queries execution records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// SQLStore is the gorm-backed Store.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.AuditConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	logger.Info("audit store initialized", zap.String("driver", cfg.Driver))

	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "audit")),
	}, nil
}

// Append writes one record.
func (s *SQLStore) Append(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.logger.Error("failed to append audit record",
			zap.String("code_hash", rec.CodeHash),
			zap.Error(err))
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
