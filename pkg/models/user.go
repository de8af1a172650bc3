package models

import (
	"time"

	"github.com/flaboy/aira-market/pkg/migration"
)

type User struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"size:255;uniqueIndex"`
	Name      string `gorm:"size:100"`
	IsAdmin   bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) TableName() string {
	return "am_users"
}

// Entitlement 用户对项目的持有记录，(user_id, project_id)唯一，
// 插入使用ON CONFLICT DO NOTHING实现存储层的原子add-to-set
type Entitlement struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"not null;index:ux_am_entitlements_pair,unique,priority:1"`
	ProjectID uint `gorm:"not null;index:ux_am_entitlements_pair,unique,priority:2"`
	PaymentID uint `gorm:"not null"` // 授予来源的支付记录
	CreatedAt time.Time
}

func (e *Entitlement) TableName() string {
	return "am_entitlements"
}

func init() {
	migration.RegisterAutoMigrateModels(&User{}, &Entitlement{})
}
