package events

import "github.com/flaboy/aira-market/pkg/types"

type EventHandler interface {
	OnPaymentSucceeded(event *types.PaymentSucceededEvent) error
	OnPaymentFailed(event *types.PaymentFailedEvent) error
	OnPaymentRefunded(event *types.PaymentRefundedEvent) error
}

var handler EventHandler

func SetEventHandler(h EventHandler) {
	handler = h
}

func EmitPaymentSucceeded(event *types.PaymentSucceededEvent) error {
	if handler != nil {
		return handler.OnPaymentSucceeded(event)
	}
	return nil
}

func EmitPaymentFailed(event *types.PaymentFailedEvent) error {
	if handler != nil {
		return handler.OnPaymentFailed(event)
	}
	return nil
}

func EmitPaymentRefunded(event *types.PaymentRefundedEvent) error {
	if handler != nil {
		return handler.OnPaymentRefunded(event)
	}
	return nil
}
