package database

import (
	"fmt"

	"github.com/flaboy/aira-market/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

// Open 根据配置初始化数据库连接
func Open(cfg *config.MarketConfig) error {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "mysql", "":
		dialector = mysql.Open(cfg.Database.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	// TranslateError使重复键冲突可以用gorm.ErrDuplicatedKey判断
	conn, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return err
	}

	db = conn
	return nil
}

func Database() *gorm.DB {
	return db
}
