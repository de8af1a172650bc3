package payment

import (
	"errors"
	"log/slog"

	apperrors "github.com/flaboy/aira-market/pkg/errors"
	"github.com/flaboy/aira-market/pkg/hashid"
	"github.com/flaboy/aira-market/pkg/models"
	"github.com/flaboy/aira-market/pkg/payment/gateway"
)

// WebhookResult webhook处理结果
type WebhookResult struct {
	EventID       string               `json:"event_id"`
	Handled       bool                 `json:"handled"`
	PaymentHashID string               `json:"payment_hash_id,omitempty"`
	Status        models.PaymentStatus `json:"status,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// DispatchWebhook 验签后分发webhook事件。payload必须是投递的原始字节，
// 任何解析都在验签之后。验签失败返回ErrInvalidSignature；
// 永久性条件（未知intent、无效迁移）确认不重试；存储错误上抛由网关重投
func (r *Reconciler) DispatchWebhook(payload []byte, signature string) (*WebhookResult, error) {
	event, err := r.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		slog.Warn("[Webhook] Signature verification failed", "error", err)
		return nil, apperrors.ErrInvalidSignature
	}

	switch event.Kind {
	case gateway.EventSucceeded:
		return r.webhookApply(event, Observation{
			Status:        models.PaymentStatusSucceeded,
			PaymentMethod: event.Intent.PaymentMethod,
		})
	case gateway.EventFailed:
		return r.webhookApply(event, Observation{
			Status: models.PaymentStatusFailed,
			Reason: event.Intent.FailureMessage,
		})
	case gateway.EventProcessing:
		return r.webhookApply(event, Observation{
			Status: models.PaymentStatusProcessing,
		})
	default:
		slog.Info("[Webhook] Ignoring unhandled event type",
			"event_id", event.ID, "type", event.Type)
		return &WebhookResult{EventID: event.ID, Message: "ignored"}, nil
	}
}

func (r *Reconciler) webhookApply(event *gateway.Event, obs Observation) (*WebhookResult, error) {
	record, err := r.Apply(event.Intent.ID, obs, SourceWebhook)
	if err != nil {
		if errors.Is(err, apperrors.ErrPaymentNotFound) {
			// 不属于本系统的intent，重投也不会有结果
			slog.Warn("[Webhook] No payment record for intent",
				"event_id", event.ID, "intent_id", event.Intent.ID)
			return &WebhookResult{EventID: event.ID, Message: "unknown intent"}, nil
		}
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			slog.Warn("[Webhook] Observation rejected by state machine",
				"event_id", event.ID, "intent_id", event.Intent.ID,
				"observed", obs.Status)
			return &WebhookResult{EventID: event.ID, Message: "invalid transition"}, nil
		}
		return nil, err
	}

	return &WebhookResult{
		EventID:       event.ID,
		Handled:       true,
		PaymentHashID: hashid.Encode(HashIDTypePayment, record.ID),
		Status:        record.Status,
	}, nil
}
