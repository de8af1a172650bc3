package gateway

import (
	"context"

	"github.com/flaboy/aira-market/pkg/models"
)

// MinimumChargeAmount 网关可受理的最小金额（分）
const MinimumChargeAmount int64 = 50

// Intent 网关侧的支付意图，状态已翻译为本地的封闭枚举
type Intent struct {
	ID             string
	ClientSecret   string
	Status         models.PaymentStatus
	PaymentMethod  string
	FailureMessage string
}

type EventKind string

const (
	EventSucceeded  EventKind = "succeeded"
	EventFailed     EventKind = "failed"
	EventProcessing EventKind = "processing"
	EventIgnored    EventKind = "ignored"
)

// Event 验签通过的webhook事件。Kind为EventIgnored时Intent为nil
type Event struct {
	ID     string
	Kind   EventKind
	Type   string // 网关原始事件类型，仅用于日志
	Intent *Intent
}

type CreateIntentRequest struct {
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Client 支付网关调用边界。本地状态是网关真相的缓存，
// 关于钱是否实际到账以网关为准
type Client interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)

	// VerifyWebhook 基于投递的原始字节验签，失败时不得解析payload
	VerifyWebhook(payload []byte, signature string) (*Event, error)

	IssueRefund(ctx context.Context, intentID string) (string, error)
}
