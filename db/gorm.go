package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nendo/config"
	"nendo/logger"
	"nendo/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the relational store selected by cfg.LibraryPlugin and
// migrates the schema.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.LibraryPlugin {
	case "mysql":
		if err := EnsureDatabase(cfg); err != nil {
			return nil, err
		}
		gdb, err = OpenMySQL(cfg)
	default:
		if err := os.MkdirAll(cfg.LibraryPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create library directory %s: %w", cfg.LibraryPath, err)
		}
		gdb, err = OpenSQLite(cfg.SQLitePath(), logLevel(cfg))
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func logLevel(cfg *config.Config) gormlogger.LogLevel {
	if logger.ParseLevel(cfg.LogLevel) == logger.DebugLevel {
		return gormlogger.Info
	}
	return gormlogger.Silent
}

func gormConfig(level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
		// Referential integrity is enforced by the library, which needs to
		// refuse deletes with a boolean instead of a constraint error.
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// OpenMySQL opens the MySQL database named in cfg.
func OpenMySQL(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(DSN(cfg)), gormConfig(logLevel(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("[DB] connected to MySQL", logger.String("host", cfg.DBHost), logger.String("db", cfg.DBName))
	return gdb, nil
}

// OpenSQLite opens an embedded database file. A path of ":memory:" gives a
// private in-memory database, which is what the tests use.
func OpenSQLite(path string, level gormlogger.LogLevel) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), gormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// One connection: SQLite serializes writers anyway and an in-memory
	// database only exists on the connection that created it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys = OFF", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if err := gdb.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return gdb, nil
}

// Close closes the underlying connection pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrateModels creates or updates the library tables.
func AutoMigrateModels(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Debug("[DB] models migrated")
	return nil
}

// Dialect returns the name of the gorm dialector ("sqlite", "mysql").
func Dialect(gdb *gorm.DB) string {
	return gdb.Dialector.Name()
}
