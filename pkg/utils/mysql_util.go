package utils

import (
	"auction-engine/internal/config"
	"auction-engine/pkg/logger"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

// InitializeMysql opens the pool and exits the process when MySQL is unreachable.
func InitializeMysql(ctx context.Context, cfg *config.Config, log logger.Logger) *sql.DB {
	driverCfg, err := storeDSN(cfg.MySQL.DSN)
	if err != nil {
		log.Error("Invalid MySQL DSN", "error", err)
		os.Exit(1)
	}
	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		log.Error("Failed to build MySQL connector", "error", err)
		os.Exit(1)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err, "addr", driverCfg.Addr, "db", driverCfg.DBName)
		_ = db.Close()
		os.Exit(1)
	}
	log.Info("Connected to MySQL", "addr", driverCfg.Addr, "db", driverCfg.DBName)
	return db
}

// storeDSN parses dsn and pins the settings the repositories rely on:
// DATETIME columns scan into time.Time and are read and written as UTC.
func storeDSN(dsn string) (*mysql.Config, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if c.DBName == "" {
		return nil, fmt.Errorf("mysql dsn has no database name")
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c, nil
}
