package models

import (
	"time"

	"github.com/flaboy/aira-market/pkg/migration"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Terminal 该状态是否为终态（succeeded仍可转为refunded）
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentRecord struct {
	ID              uint   `gorm:"primaryKey"`
	GatewayIntentID string `gorm:"size:100;uniqueIndex"` // 支付网关intent ID，创建时写入且不变
	UserID          uint   `gorm:"not null;index:ux_am_payments_inflight,unique,priority:1"`
	ProjectID       uint   `gorm:"not null;index:ux_am_payments_inflight,unique,priority:2"`

	// 非终态时为true，进入终态置NULL。配合(user_id, project_id, in_flight)
	// 唯一索引保证同一用户同一项目最多一条在途记录
	InFlight *bool `gorm:"column:in_flight;index:ux_am_payments_inflight,unique,priority:3"`

	Amount        int64         `gorm:"not null"` // 金额（分）
	Currency      string        `gorm:"size:10;default:'USD'"`
	Status        PaymentStatus `gorm:"size:20;index"`
	ClientSecret  string        `gorm:"size:255"` // 前端完成支付所需的句柄
	PaymentMethod string        `gorm:"size:100"` // 成功时记录
	Error         string        `gorm:"size:255"` // 失败原因
	RefundID      string        `gorm:"size:100"` // 退款时记录

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (p *PaymentRecord) TableName() string {
	return "am_payments"
}

func init() {
	migration.RegisterAutoMigrateModels(&PaymentRecord{})
}
