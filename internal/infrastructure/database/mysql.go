package database

import (
	"fmt"
	"log"
	"time"

	"posledger/internal/config"
	"posledger/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitMySQL opens the MySQL connection pool and migrates the ledger tables.
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("connect mysql: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("get underlying sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Fatalf("migrate tables: %v", err)
	}

	log.Println("mysql connected")
	return db
}

// Migrate creates or updates the ledger tables. Shared with the sqlite-backed
// tests so both paths run the same schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Transaction{},
		&model.PaymentSettlement{},
		&model.Cashier{},
		&model.OutboxMessage{},
	)
}
