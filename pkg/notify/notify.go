package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/flaboy/aira-market/pkg/config"
	"github.com/flaboy/aira-market/pkg/types"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// PaymentNotifier 支付结果的尽力而为通知：SQS队列与店面回调。
// 通知失败只记录日志，绝不影响已提交的支付状态
type PaymentNotifier struct {
	queueURL    string
	callbackURL string
	client      *sqs.Client
}

// NewPaymentNotifier 按配置创建通知器
func NewPaymentNotifier(ctx context.Context, cfg *config.MarketConfig) (*PaymentNotifier, error) {
	n := &PaymentNotifier{
		queueURL:    cfg.Notify.SQSQueueURL,
		callbackURL: cfg.Notify.CallbackURL,
	}
	if !cfg.Notify.Enabled || cfg.Notify.SQSQueueURL == "" {
		return n, nil
	}

	var awsCfg aws.Config
	var err error
	if cfg.Notify.AWSAccessKey != "" && cfg.Notify.AWSSecret != "" {
		awsCfg, err = awsConfig.LoadDefaultConfig(ctx,
			awsConfig.WithRegion(cfg.Notify.AWSRegion),
			awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.Notify.AWSAccessKey,
				cfg.Notify.AWSSecret,
				"",
			)),
		)
	} else {
		awsCfg, err = awsConfig.LoadDefaultConfig(ctx,
			awsConfig.WithRegion(cfg.Notify.AWSRegion),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	n.client = sqs.NewFromConfig(awsCfg)
	return n, nil
}

func (n *PaymentNotifier) OnPaymentSucceeded(event *types.PaymentSucceededEvent) error {
	n.dispatch("payment.succeeded", event)
	return nil
}

func (n *PaymentNotifier) OnPaymentFailed(event *types.PaymentFailedEvent) error {
	n.dispatch("payment.failed", event)
	return nil
}

func (n *PaymentNotifier) OnPaymentRefunded(event *types.PaymentRefundedEvent) error {
	n.dispatch("payment.refunded", event)
	return nil
}

func (n *PaymentNotifier) dispatch(eventType string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"id":          uuid.NewString(), // 消费方去重用的消息ID
		"type":        eventType,
		"occurred_at": time.Now().UTC(),
		"payload":     payload,
	})
	if err != nil {
		slog.Error("[Notify] Failed to marshal event", "type", eventType, "error", err)
		return
	}

	n.publish(eventType, body)
	n.push(eventType, body)
}

// publish 投递到SQS队列
func (n *PaymentNotifier) publish(eventType string, body []byte) {
	if n.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		slog.Error("[Notify] Failed to publish event to SQS", "type", eventType, "error", err)
		return
	}
	slog.Info("[Notify] Event published to SQS", "type", eventType)
}

// push 回调店面
func (n *PaymentNotifier) push(eventType string, body []byte) {
	if n.callbackURL == "" {
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.callbackURL)
	req.Header.SetMethod("POST")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Aira-Event", eventType)
	req.SetBody(body)

	if err := fasthttp.DoTimeout(req, resp, 10*time.Second); err != nil {
		slog.Error("[Notify] Storefront callback failed", "type", eventType, "error", err)
		return
	}
	if resp.StatusCode() != 200 {
		slog.Error("[Notify] Storefront callback rejected",
			"type", eventType, "status", resp.StatusCode())
		return
	}
	slog.Info("[Notify] Storefront notified", "type", eventType)
}
