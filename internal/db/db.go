package db

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a gorm connection for driver "mysql", "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver != "sqlite" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Connect is Open + AutoMigrate of the given models. It exits the process on failure,
// since nothing works without the store.
func Connect(log *zap.Logger, driver, dsn string, models ...any) *gorm.DB {
	gdb, err := Open(driver, dsn)
	if err != nil {
		log.Fatal("db connect failed", zap.String("driver", driver), zap.Error(err))
	}
	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			log.Fatal("db automigrate failed", zap.Error(err))
		}
	}
	log.Info("db connected", zap.String("driver", driver))
	return gdb
}
