// Package database 负责建立 MySQL、MongoDB 和 Redis 连接。
package database

import (
	"fmt"
	"time"

	"labsight-go/internal/model"
	"labsight-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenMySQL 打开 MySQL 连接，配置连接池并迁移 reports 表。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Report{}); err != nil {
		return nil, fmt.Errorf("failed to migrate reports table: %w", err)
	}

	log.Info("MySQL database connected successfully")
	return db, nil
}
