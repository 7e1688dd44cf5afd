package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSQLiteDSN   = "hub-bots.db"
	slowQueryThreshold = 500 * time.Millisecond
)

// OpenGorm opens a sqlite or postgres database. Query logs go to log at debug
// level; slow queries and failures are logged at warn/error.
func OpenGorm(driver, dsn string, log zerolog.Logger) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSQLite
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver != DriverSQLite {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		dsn = defaultSQLiteDSN
	}

	cfg := &gorm.Config{Logger: newGormLogger(log.With().Str("component", "gorm").Str("driver", driver).Logger())}
	switch driver {
	case DriverSQLite:
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqliteDriver.Open(dsn), cfg)
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

type gormLogger struct {
	log   zerolog.Logger
	level gormlogger.LogLevel
}

func newGormLogger(log zerolog.Logger) *gormLogger {
	return &gormLogger{log: log, level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	copied := *l
	copied.level = level
	return &copied
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info().Msgf(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn().Msgf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error().Msgf(msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

// sqliteFilePath reports the on-disk path for a sqlite dsn, or false for
// in-memory databases.
func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	lower := strings.ToLower(raw)
	if raw == "" || lower == ":memory:" || strings.HasPrefix(lower, "file::memory:") {
		return "", false
	}
	if !strings.HasPrefix(lower, "file:") {
		return stripQuery(raw), true
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return stripQuery(strings.TrimPrefix(raw, "file:")), true
	}
	if strings.EqualFold(parsed.Query().Get("mode"), "memory") {
		return "", false
	}
	switch {
	case parsed.Path != "":
		return parsed.Path, true
	case parsed.Opaque != "":
		return stripQuery(parsed.Opaque), true
	default:
		return "", false
	}
}

func stripQuery(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}
