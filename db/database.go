package db

import (
	"database/sql"
	"fmt"
	"net"
	"time"

	"nendo/config"
	"nendo/logger"

	"github.com/go-sql-driver/mysql"
)

func mysqlConfig(cfg *config.Config) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc
}

// DSN returns the data source name of the configured library database.
func DSN(cfg *config.Config) string {
	mc := mysqlConfig(cfg)
	mc.DBName = cfg.DBName
	return mc.FormatDSN()
}

// EnsureDatabase creates the library database on the MySQL server if it does
// not exist yet. It connects without selecting a schema.
func EnsureDatabase(cfg *config.Config) error {
	conn, err := sql.Open("mysql", mysqlConfig(cfg).FormatDSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer conn.Close()

	if err = conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.DBName)
	if _, err := conn.Exec(query); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
	}

	logger.Info("[DB] database ensured", logger.String("db", cfg.DBName))
	return nil
}
