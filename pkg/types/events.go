package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentSucceededEvent struct {
	PaymentHashID   string           `json:"payment_hash_id"`
	GatewayIntentID string           `json:"gateway_intent_id"`
	UserID          uint             `json:"user_id"`
	ProjectID       uint             `json:"project_id"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        string           `json:"currency"`
	PaymentMethod   string           `json:"payment_method"`
	CompletedAt     time.Time        `json:"completed_at"`
}

type PaymentFailedEvent struct {
	PaymentHashID   string    `json:"payment_hash_id"`
	GatewayIntentID string    `json:"gateway_intent_id"`
	UserID          uint      `json:"user_id"`
	ProjectID       uint      `json:"project_id"`
	Reason          string    `json:"reason"`
	FailedAt        time.Time `json:"failed_at"`
}

type PaymentRefundedEvent struct {
	PaymentHashID   string           `json:"payment_hash_id"`
	GatewayIntentID string           `json:"gateway_intent_id"`
	RefundID        string           `json:"refund_id"`
	UserID          uint             `json:"user_id"`
	ProjectID       uint             `json:"project_id"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        string           `json:"currency"`
	RefundedAt      time.Time        `json:"refunded_at"`
}
