package errors

import "github.com/flaboy/pin/usererrors"

// 支付相关错误
var (
	ErrProjectNotFound   = usererrors.New("payment.project_not_found", "Project not found")
	ErrNotPurchasable    = usererrors.New("payment.not_purchasable", "Project is not purchasable")
	ErrAmountTooSmall    = usererrors.New("payment.amount_too_small", "Amount is below the minimum chargeable amount")
	ErrAmountMismatch    = usererrors.New("payment.amount_mismatch", "Amount does not match the project price")
	ErrCurrencyMismatch  = usererrors.New("payment.currency_mismatch", "Currency does not match the project price")
	ErrAlreadyOwned      = usererrors.New("payment.already_owned", "Project is already owned")
	ErrPaymentNotFound   = usererrors.New("payment.record_not_found", "Payment record not found")
	ErrInvalidTransition = usererrors.New("payment.invalid_transition", "Invalid payment status transition")
	ErrGateway           = usererrors.New("payment.gateway_error", "Payment gateway request failed")
	ErrInvalidSignature  = usererrors.New("payment.invalid_signature", "Invalid webhook signature")
	ErrUnauthorized      = usererrors.New("payment.unauthorized", "Authentication required")
	ErrAdminRequired     = usererrors.New("payment.admin_required", "Administrator access required")
)
