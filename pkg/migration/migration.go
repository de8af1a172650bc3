package migration

import "gorm.io/gorm"

var autoMigrateModels []interface{}

// RegisterAutoMigrateModels 注册需要自动迁移的模型，在模型包的init中调用
func RegisterAutoMigrateModels(models ...interface{}) {
	autoMigrateModels = append(autoMigrateModels, models...)
}

// AutoMigrate 执行所有已注册模型的自动迁移
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(autoMigrateModels...)
}
