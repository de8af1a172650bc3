package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/flaboy/aira-market/pkg/errors"
	"github.com/flaboy/aira-market/pkg/events"
	"github.com/flaboy/aira-market/pkg/hashid"
	"github.com/flaboy/aira-market/pkg/helper"
	"github.com/flaboy/aira-market/pkg/models"
	"github.com/flaboy/aira-market/pkg/payment/gateway"
	"github.com/flaboy/aira-market/pkg/types"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

var HashIDTypePayment = hashid.NewType("pm-", "payment", 6)
var HashIDTypeProject = hashid.NewType("pj-", "project", 6)

// Source 状态观察的来源路径
type Source string

const (
	SourceConfirm Source = "confirm"
	SourceWebhook Source = "webhook"
	SourceRefund  Source = "refund"
)

// Observation 从网关观察到的一次状态事实
type Observation struct {
	Status        models.PaymentStatus
	PaymentMethod string
	Reason        string
}

// CheckoutSession 返回给前端的支付会话
type CheckoutSession struct {
	PaymentHashID string               `json:"payment_hash_id"`
	IntentID      string               `json:"intent_id"`
	ClientSecret  string               `json:"client_secret"`
	Status        models.PaymentStatus `json:"status"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	ReturnURL     string               `json:"return_url"`
}

// Reconciler 支付状态机。所有状态迁移都经过Apply这一个入口，
// 幂等与顺序约束只在这里实施一次
type Reconciler struct {
	db      *gorm.DB
	gateway gateway.Client
}

func NewReconciler(db *gorm.DB, gw gateway.Client) *Reconciler {
	return &Reconciler{db: db, gateway: gw}
}

// Create 发起购买。同一(user, project)存在可用的在途会话时直接返回，
// 不会重复创建网关intent
func (r *Reconciler) Create(ctx context.Context, userID, projectID uint, amount int64, currency string) (*CheckoutSession, error) {
	var project models.Project
	if err := r.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrProjectNotFound
		}
		return nil, err
	}
	if !project.Purchasable() {
		return nil, apperrors.ErrNotPurchasable
	}
	if amount < gateway.MinimumChargeAmount {
		return nil, apperrors.ErrAmountTooSmall
	}
	if amount != project.Price {
		return nil, apperrors.ErrAmountMismatch
	}
	// 金额与币种都以项目定价为准，客户端只负责原样回传
	if !strings.EqualFold(currency, project.Currency) {
		return nil, apperrors.ErrCurrencyMismatch
	}
	if r.HasEntitlement(userID, projectID) {
		return nil, apperrors.ErrAlreadyOwned
	}

	if existing := r.findInFlight(userID, projectID); existing != nil && existing.ClientSecret != "" {
		slog.Info("[Reconciler] Reusing in-flight payment session",
			"payment_id", existing.ID, "intent_id", existing.GatewayIntentID)
		return sessionOf(existing), nil
	}

	intent, err := r.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		Metadata: map[string]string{
			"user_id":    cast.ToString(userID),
			"project_id": cast.ToString(projectID),
		},
	})
	if err != nil {
		slog.Error("[Reconciler] Gateway intent creation failed",
			"user_id", userID, "project_id", projectID, "error", err)
		return nil, apperrors.ErrGateway
	}

	inFlight := true
	record := &models.PaymentRecord{
		GatewayIntentID: intent.ID,
		UserID:          userID,
		ProjectID:       projectID,
		InFlight:        &inFlight,
		Amount:          amount,
		Currency:        strings.ToUpper(currency),
		Status:          models.PaymentStatusCreated,
		ClientSecret:    intent.ClientSecret,
	}
	if err := r.db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发请求抢先创建了在途记录，返回胜者的会话
			if winner := r.findInFlight(userID, projectID); winner != nil && winner.ClientSecret != "" {
				slog.Info("[Reconciler] Lost create race, returning winning session",
					"payment_id", winner.ID, "intent_id", winner.GatewayIntentID,
					"orphan_intent_id", intent.ID)
				return sessionOf(winner), nil
			}
		}
		return nil, err
	}

	slog.Info("[Reconciler] Payment record created",
		"payment_id", record.ID, "intent_id", intent.ID,
		"user_id", userID, "project_id", projectID, "amount", amount)
	return sessionOf(record), nil
}

// Confirm 客户端确认。重新从网关获取intent的真实状态后再进状态机
func (r *Reconciler) Confirm(ctx context.Context, intentID string) (*models.PaymentRecord, error) {
	intent, err := r.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		slog.Error("[Reconciler] Gateway intent retrieval failed", "intent_id", intentID, "error", err)
		return nil, apperrors.ErrGateway
	}

	return r.Apply(intentID, Observation{
		Status:        intent.Status,
		PaymentMethod: intent.PaymentMethod,
		Reason:        intent.FailureMessage,
	}, SourceConfirm)
}

// Apply 状态迁移的唯一入口。confirm与webhook竞态时结果与顺序无关：
// 重复的成功观察是no-op，成功之后的失败观察被拒绝
func (r *Reconciler) Apply(intentID string, obs Observation, source Source) (*models.PaymentRecord, error) {
	record, err := r.FindByIntent(intentID)
	if err != nil {
		return nil, err
	}

	switch obs.Status {
	case models.PaymentStatusSucceeded:
		return r.applySuccess(record, obs, source)
	case models.PaymentStatusFailed:
		return r.applyFailure(record, obs, source)
	case models.PaymentStatusProcessing:
		return r.applyProcessing(record, source)
	default:
		// created：网关尚无新事实可应用
		return record, nil
	}
}

func (r *Reconciler) applySuccess(record *models.PaymentRecord, obs Observation, source Source) (*models.PaymentRecord, error) {
	var applied bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// 存储层CAS：只有非终态记录可以进入succeeded
		res := tx.Model(&models.PaymentRecord{}).
			Where("id = ? AND status IN ?", record.ID, []models.PaymentStatus{
				models.PaymentStatusCreated, models.PaymentStatusProcessing,
			}).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusSucceeded,
				"payment_method": obs.PaymentMethod,
				"completed_at":   time.Now(),
				"in_flight":      nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return r.grantEntitlement(tx, record.UserID, record.ProjectID, record.ID)
	})
	if err != nil {
		return nil, err
	}

	if err := r.db.First(record, record.ID).Error; err != nil {
		return nil, err
	}

	if !applied {
		switch record.Status {
		case models.PaymentStatusSucceeded, models.PaymentStatusRefunded:
			// 重复投递，成功已经应用过
			slog.Info("[Reconciler] Duplicate success observation ignored",
				"payment_id", record.ID, "source", source)
			return record, nil
		default:
			return nil, apperrors.ErrInvalidTransition
		}
	}

	slog.Info("[Reconciler] Payment succeeded",
		"payment_id", record.ID, "intent_id", record.GatewayIntentID, "source", source)

	// 通知是尽力而为的副作用，失败不回滚已提交的状态迁移
	event := &types.PaymentSucceededEvent{
		PaymentHashID:   hashid.Encode(HashIDTypePayment, record.ID),
		GatewayIntentID: record.GatewayIntentID,
		UserID:          record.UserID,
		ProjectID:       record.ProjectID,
		Amount:          amountToDecimal(record.Amount),
		Currency:        record.Currency,
		PaymentMethod:   record.PaymentMethod,
	}
	if record.CompletedAt != nil {
		event.CompletedAt = *record.CompletedAt
	} else {
		event.CompletedAt = time.Now()
	}
	if err := events.EmitPaymentSucceeded(event); err != nil {
		slog.Error("[Reconciler] Payment succeeded notification failed",
			"payment_id", record.ID, "error", err)
	}
	return record, nil
}

func (r *Reconciler) applyFailure(record *models.PaymentRecord, obs Observation, source Source) (*models.PaymentRecord, error) {
	res := r.db.Model(&models.PaymentRecord{}).
		Where("id = ? AND status IN ?", record.ID, []models.PaymentStatus{
			models.PaymentStatusCreated, models.PaymentStatusProcessing,
		}).
		Updates(map[string]interface{}{
			"status":    models.PaymentStatusFailed,
			"error":     obs.Reason,
			"in_flight": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	if err := r.db.First(record, record.ID).Error; err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		if record.Status == models.PaymentStatusFailed {
			// 重复的失败投递
			return record, nil
		}
		// 成功观察冻结记录，之后的失败观察被拒绝
		return nil, apperrors.ErrInvalidTransition
	}

	slog.Info("[Reconciler] Payment failed",
		"payment_id", record.ID, "intent_id", record.GatewayIntentID,
		"reason", obs.Reason, "source", source)

	if err := events.EmitPaymentFailed(&types.PaymentFailedEvent{
		PaymentHashID:   hashid.Encode(HashIDTypePayment, record.ID),
		GatewayIntentID: record.GatewayIntentID,
		UserID:          record.UserID,
		ProjectID:       record.ProjectID,
		Reason:          obs.Reason,
		FailedAt:        time.Now(),
	}); err != nil {
		slog.Error("[Reconciler] Payment failed notification failed",
			"payment_id", record.ID, "error", err)
	}
	return record, nil
}

func (r *Reconciler) applyProcessing(record *models.PaymentRecord, source Source) (*models.PaymentRecord, error) {
	// created以外的状态观察到processing都是旧消息，no-op
	res := r.db.Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", record.ID, models.PaymentStatusCreated).
		Update("status", models.PaymentStatusProcessing)
	if res.Error != nil {
		return nil, res.Error
	}
	if err := r.db.First(record, record.ID).Error; err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		slog.Info("[Reconciler] Payment processing",
			"payment_id", record.ID, "source", source)
	}
	return record, nil
}

// Refund 管理员退款。仅succeeded状态可退
func (r *Reconciler) Refund(ctx context.Context, paymentID uint) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.First(&record, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	if record.Status != models.PaymentStatusSucceeded {
		return nil, apperrors.ErrInvalidTransition
	}

	refundID, err := r.gateway.IssueRefund(ctx, record.GatewayIntentID)
	if err != nil {
		slog.Error("[Reconciler] Gateway refund failed",
			"payment_id", record.ID, "intent_id", record.GatewayIntentID, "error", err)
		return nil, apperrors.ErrGateway
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentRecord{}).
			Where("id = ? AND status = ?", record.ID, models.PaymentStatusSucceeded).
			Updates(map[string]interface{}{
				"status":    models.PaymentStatusRefunded,
				"refund_id": refundID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrInvalidTransition
		}
		return r.revokeEntitlement(tx, &record)
	})
	if err != nil {
		return nil, err
	}

	if err := r.db.First(&record, record.ID).Error; err != nil {
		return nil, err
	}

	slog.Info("[Reconciler] Payment refunded",
		"payment_id", record.ID, "intent_id", record.GatewayIntentID, "refund_id", refundID)

	if err := events.EmitPaymentRefunded(&types.PaymentRefundedEvent{
		PaymentHashID:   hashid.Encode(HashIDTypePayment, record.ID),
		GatewayIntentID: record.GatewayIntentID,
		RefundID:        refundID,
		UserID:          record.UserID,
		ProjectID:       record.ProjectID,
		Amount:          amountToDecimal(record.Amount),
		Currency:        record.Currency,
		RefundedAt:      time.Now(),
	}); err != nil {
		slog.Error("[Reconciler] Payment refunded notification failed",
			"payment_id", record.ID, "error", err)
	}
	return &record, nil
}

// FindByIntent 按网关intent ID查找支付记录
func (r *Reconciler) FindByIntent(intentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.Where("gateway_intent_id = ?", intentID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *Reconciler) findInFlight(userID, projectID uint) *models.PaymentRecord {
	var record models.PaymentRecord
	err := r.db.Where("user_id = ? AND project_id = ? AND in_flight IS NOT NULL", userID, projectID).
		First(&record).Error
	if err != nil {
		return nil
	}
	return &record
}

func sessionOf(record *models.PaymentRecord) *CheckoutSession {
	return &CheckoutSession{
		PaymentHashID: hashid.Encode(HashIDTypePayment, record.ID),
		IntentID:      record.GatewayIntentID,
		ClientSecret:  record.ClientSecret,
		Status:        record.Status,
		Amount:        record.Amount,
		Currency:      record.Currency,
		ReturnURL:     helper.BuildUrl("/payment/complete"),
	}
}
