package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flaboy/aira-market/pkg/models"
	"github.com/flaboy/aira-market/pkg/payment/gateway"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Stripe 卡支付网关实现。Stripe的状态与事件词汇在这里翻译为
// 本地的封闭枚举，不向上层泄漏
type Stripe struct {
	api           *client.API
	webhookSecret string
}

func New(secretKey, webhookSecret string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

// CreateIntent 创建PaymentIntent
func (s *Stripe) CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return convertIntent(pi), nil
}

// RetrieveIntent 获取PaymentIntent的当前状态
func (s *Stripe) RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", intentID, err)
	}
	return convertIntent(pi), nil
}

// VerifyWebhook 对原始请求体验签并翻译事件类型
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, err
	}

	eventType := string(event.Type)
	result := &gateway.Event{ID: event.ID, Type: eventType}

	switch eventType {
	case "payment_intent.succeeded":
		result.Kind = gateway.EventSucceeded
	case "payment_intent.payment_failed":
		result.Kind = gateway.EventFailed
	case "payment_intent.processing":
		result.Kind = gateway.EventProcessing
	default:
		// 网关可能引入新事件类型，统一确认并忽略
		result.Kind = gateway.EventIgnored
		return result, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", eventType, err)
	}
	result.Intent = convertIntent(&pi)
	return result, nil
}

// IssueRefund 对PaymentIntent全额退款。幂等键由intent ID派生，
// 并发的退款请求在网关侧折叠为同一次退款
func (s *Stripe) IssueRefund(ctx context.Context, intentID string) (string, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(intentID),
	}
	params.SetIdempotencyKey(refundIdempotencyKey(intentID))

	refund, err := s.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to refund payment intent %s: %w", intentID, err)
	}
	return refund.ID, nil
}

func refundIdempotencyKey(intentID string) string {
	return "refund-" + intentID
}

// convertIntent 翻译Stripe的intent状态到本地状态枚举
func convertIntent(pi *stripe.PaymentIntent) *gateway.Intent {
	intent := &gateway.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		intent.Status = models.PaymentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		intent.Status = models.PaymentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		intent.Status = models.PaymentStatusFailed
	default:
		// requires_payment_method / requires_confirmation / requires_action
		intent.Status = models.PaymentStatusCreated
	}

	if pi.PaymentMethod != nil {
		intent.PaymentMethod = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	return intent
}
