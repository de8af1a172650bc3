package commence

import (
	"context"

	"github.com/flaboy/aira-market/pkg/config"
	"github.com/flaboy/aira-market/pkg/database"
	"github.com/flaboy/aira-market/pkg/events"
	"github.com/flaboy/aira-market/pkg/migration"
	"github.com/flaboy/aira-market/pkg/notify"
	"github.com/flaboy/aira-market/pkg/payment"
	"github.com/flaboy/aira-market/pkg/payment/gateway/stripe"
)

var reconciler *payment.Reconciler

// Start 启动服务组件
func Start(cfg *config.MarketConfig) error {
	config.Config = cfg

	if err := database.Open(cfg); err != nil {
		return err
	}
	if err := migration.AutoMigrate(database.Database()); err != nil {
		return err
	}

	gw := stripe.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	reconciler = payment.NewReconciler(database.Database(), gw)

	notifier, err := notify.NewPaymentNotifier(context.Background(), cfg)
	if err != nil {
		return err
	}
	events.SetEventHandler(notifier)

	return nil
}

// Reconciler 获取支付状态机实例
func Reconciler() *payment.Reconciler {
	return reconciler
}

// NewPaymentController 创建支付控制器，认证解析由业务系统注入
func NewPaymentController(user, admin payment.UserResolver) *payment.Controller {
	return payment.NewController(reconciler, user, admin)
}

// 注册业务系统的事件处理器（覆盖默认的通知器）
func RegisterEventHandler(handler events.EventHandler) {
	events.SetEventHandler(handler)
}
