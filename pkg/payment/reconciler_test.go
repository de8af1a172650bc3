package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/flaboy/aira-market/pkg/errors"
	"github.com/flaboy/aira-market/pkg/migration"
	"github.com/flaboy/aira-market/pkg/models"
	"github.com/flaboy/aira-market/pkg/payment/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubGateway struct {
	createCalls    int
	createErr      error
	retrieveCalls  int
	retrieveErr    error
	refundCalls    int
	refundErr      error
	intentStatus   models.PaymentStatus
	paymentMethod  string
	failureMessage string
	verifyEvent    *gateway.Event
	verifyErr      error
	onCreate       func() // 在网关调用期间执行，用于模拟并发请求抢先落库
}

func (g *stubGateway) CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.onCreate != nil {
		g.onCreate()
	}
	return &gateway.Intent{
		ID:           fmt.Sprintf("pi_test_%d", g.createCalls),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", g.createCalls),
		Status:       models.PaymentStatusCreated,
	}, nil
}

func (g *stubGateway) RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	g.retrieveCalls++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	return &gateway.Intent{
		ID:             intentID,
		ClientSecret:   intentID + "_secret",
		Status:         g.intentStatus,
		PaymentMethod:  g.paymentMethod,
		FailureMessage: g.failureMessage,
	}, nil
}

func (g *stubGateway) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyEvent, nil
}

func (g *stubGateway) IssueRefund(ctx context.Context, intentID string) (string, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return fmt.Sprintf("re_test_%d", g.refundCalls), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func newTestReconciler(t *testing.T) (*Reconciler, *stubGateway, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	gw := &stubGateway{}
	return NewReconciler(db, gw), gw, db
}

func seedPurchase(t *testing.T, db *gorm.DB) (*models.User, *models.Project) {
	t.Helper()
	user := &models.User{Email: "buyer@example.com", Name: "Buyer"}
	require.NoError(t, db.Create(user).Error)
	project := &models.Project{
		Name:     "Brutalist CMS",
		Slug:     "brutalist-cms",
		Price:    1999,
		Currency: "USD",
		Status:   models.ProjectStatusPublished,
	}
	require.NoError(t, db.Create(project).Error)
	return user, project
}

func entitlementCount(t *testing.T, db *gorm.DB, userID, projectID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Entitlement{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Count(&count).Error)
	return count
}

func TestCreate_NewPurchase(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	assert.Equal(t, "pi_test_1", session.IntentID)
	assert.Equal(t, "pi_test_1_secret", session.ClientSecret)
	assert.Equal(t, models.PaymentStatusCreated, session.Status)
	assert.Equal(t, int64(1999), session.Amount)
	assert.Equal(t, "USD", session.Currency)
	assert.Equal(t, 1, gw.createCalls)

	var record models.PaymentRecord
	require.NoError(t, db.Where("gateway_intent_id = ?", "pi_test_1").First(&record).Error)
	assert.Equal(t, models.PaymentStatusCreated, record.Status)
	assert.NotNil(t, record.InFlight)
}

func TestCreate_ReturnsExistingSession(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	first, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	second, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, 1, gw.createCalls, "retry must not create a second gateway intent")

	var count int64
	require.NoError(t, db.Model(&models.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreate_Validation(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	draft := &models.Project{Name: "Draft Kit", Slug: "draft-kit", Price: 500, Status: models.ProjectStatusDraft}
	require.NoError(t, db.Create(draft).Error)

	t.Run("unknown project", func(t *testing.T) {
		_, err := r.Create(context.Background(), user.ID, 9999, 1999, "usd")
		assert.ErrorIs(t, err, apperrors.ErrProjectNotFound)
	})

	t.Run("not purchasable", func(t *testing.T) {
		_, err := r.Create(context.Background(), user.ID, draft.ID, 500, "usd")
		assert.ErrorIs(t, err, apperrors.ErrNotPurchasable)
	})

	t.Run("amount below minimum", func(t *testing.T) {
		_, err := r.Create(context.Background(), user.ID, project.ID, 10, "usd")
		assert.ErrorIs(t, err, apperrors.ErrAmountTooSmall)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		_, err := r.Create(context.Background(), user.ID, project.ID, 2999, "usd")
		assert.ErrorIs(t, err, apperrors.ErrAmountMismatch)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		_, err := r.Create(context.Background(), user.ID, project.ID, 1999, "jpy")
		assert.ErrorIs(t, err, apperrors.ErrCurrencyMismatch)
	})

	t.Run("already owned", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Entitlement{UserID: user.ID, ProjectID: project.ID, PaymentID: 1}).Error)
		_, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
		assert.ErrorIs(t, err, apperrors.ErrAlreadyOwned)
	})

	assert.Equal(t, 0, gw.createCalls, "validation errors must reject before any gateway call")
}

func TestCreate_LostRaceReturnsWinner(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	// 本请求在等待网关时，并发请求已为同一(user, project)落库在途记录。
	// 随后的插入撞上唯一索引，调用方拿到胜者的会话
	inFlight := true
	gw.onCreate = func() {
		require.NoError(t, db.Create(&models.PaymentRecord{
			GatewayIntentID: "pi_winner",
			UserID:          user.ID,
			ProjectID:       project.ID,
			InFlight:        &inFlight,
			Amount:          1999,
			Currency:        "USD",
			Status:          models.PaymentStatusCreated,
			ClientSecret:    "pi_winner_secret",
		}).Error)
	}

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	assert.Equal(t, "pi_winner", session.IntentID)
	assert.Equal(t, "pi_winner_secret", session.ClientSecret)

	var count int64
	require.NoError(t, db.Model(&models.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the losing insert must not leave a second record")
}

func TestCreate_GatewayError(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)
	gw.createErr = errors.New("connection refused")

	_, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	assert.ErrorIs(t, err, apperrors.ErrGateway)

	var count int64
	require.NoError(t, db.Model(&models.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "gateway failure must not leave a dangling record")
}

func TestCreate_NewIntentAfterTerminal(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	first, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	_, err = r.Apply(first.IntentID, Observation{
		Status: models.PaymentStatusFailed,
		Reason: "card_declined",
	}, SourceWebhook)
	require.NoError(t, err)

	second, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	assert.NotEqual(t, first.IntentID, second.IntentID)
	assert.Equal(t, 2, gw.createCalls)
}

func TestApply_SuccessGrantsEntitlement(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	record, err := r.Apply(session.IntentID, Observation{
		Status:        models.PaymentStatusSucceeded,
		PaymentMethod: "pm_card_visa",
	}, SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Equal(t, "pm_card_visa", record.PaymentMethod)
	assert.NotNil(t, record.CompletedAt)
	assert.Nil(t, record.InFlight)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestApply_SuccessIdempotent(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	obs := Observation{Status: models.PaymentStatusSucceeded, PaymentMethod: "pm_card_visa"}

	first, err := r.Apply(session.IntentID, obs, SourceConfirm)
	require.NoError(t, err)

	second, err := r.Apply(session.IntentID, obs, SourceWebhook)
	require.NoError(t, err, "duplicate success delivery is a no-op, not an error")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PaymentMethod, second.PaymentMethod)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestApply_FailureAfterSuccessRejected(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	_, err = r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceConfirm)
	require.NoError(t, err)

	_, err = r.Apply(session.IntentID, Observation{
		Status: models.PaymentStatusFailed,
		Reason: "late failure",
	}, SourceWebhook)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "success freezes the record")

	var record models.PaymentRecord
	require.NoError(t, db.Where("gateway_intent_id = ?", session.IntentID).First(&record).Error)
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Empty(t, record.Error)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestApply_FailureRecordsReason(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	record, err := r.Apply(session.IntentID, Observation{
		Status: models.PaymentStatusFailed,
		Reason: "card_declined",
	}, SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusFailed, record.Status)
	assert.Equal(t, "card_declined", record.Error)
	assert.Nil(t, record.InFlight)
	assert.Equal(t, int64(0), entitlementCount(t, db, user.ID, project.ID))

	// 重复的失败投递是no-op
	_, err = r.Apply(session.IntentID, Observation{
		Status: models.PaymentStatusFailed,
		Reason: "card_declined",
	}, SourceWebhook)
	assert.NoError(t, err)
}

func TestApply_Processing(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	record, err := r.Apply(session.IntentID, Observation{Status: models.PaymentStatusProcessing}, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, record.Status)

	_, err = r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceConfirm)
	require.NoError(t, err)

	// 成功之后迟到的processing消息不降级状态
	record, err = r.Apply(session.IntentID, Observation{Status: models.PaymentStatusProcessing}, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestApply_UnknownIntent(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	_, err := r.Apply("pi_unknown", Observation{Status: models.PaymentStatusSucceeded}, SourceWebhook)
	assert.ErrorIs(t, err, apperrors.ErrPaymentNotFound)
}

func TestConfirm_AppliesGatewayTruth(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	gw.intentStatus = models.PaymentStatusSucceeded
	gw.paymentMethod = "pm_card_visa"

	record, err := r.Confirm(context.Background(), session.IntentID)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.retrieveCalls, "confirm must re-retrieve truth from the gateway")
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Equal(t, "pm_card_visa", record.PaymentMethod)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestConfirm_GatewayError(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	gw.retrieveErr = errors.New("timeout")
	_, err = r.Confirm(context.Background(), session.IntentID)
	assert.ErrorIs(t, err, apperrors.ErrGateway)

	var record models.PaymentRecord
	require.NoError(t, db.Where("gateway_intent_id = ?", session.IntentID).First(&record).Error)
	assert.Equal(t, models.PaymentStatusCreated, record.Status)
}

func TestRefund_HappyPath(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	succeeded, err := r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceWebhook)
	require.NoError(t, err)

	record, err := r.Refund(context.Background(), succeeded.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, record.Status)
	assert.Equal(t, "re_test_1", record.RefundID)
	assert.Equal(t, 1, gw.refundCalls)
	assert.Equal(t, int64(0), entitlementCount(t, db, user.ID, project.ID))

	// 二次退款是无效迁移
	_, err = r.Refund(context.Background(), succeeded.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, gw.refundCalls, "rejected refund must not reach the gateway")
}

func TestRefund_RejectsNonSucceeded(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)

	var record models.PaymentRecord
	require.NoError(t, db.Where("gateway_intent_id = ?", session.IntentID).First(&record).Error)

	_, err = r.Refund(context.Background(), record.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = r.Apply(session.IntentID, Observation{Status: models.PaymentStatusFailed, Reason: "declined"}, SourceWebhook)
	require.NoError(t, err)

	_, err = r.Refund(context.Background(), record.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 0, gw.refundCalls)
}

func TestRefund_GatewayError(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	succeeded, err := r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceWebhook)
	require.NoError(t, err)

	gw.refundErr = errors.New("refund rejected")
	_, err = r.Refund(context.Background(), succeeded.ID)
	assert.ErrorIs(t, err, apperrors.ErrGateway)

	var record models.PaymentRecord
	require.NoError(t, db.First(&record, succeeded.ID).Error)
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestRefund_KeepsEntitlementWithOtherSucceeded(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	first, err := r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceWebhook)
	require.NoError(t, err)

	// 同一(user, project)的另一条succeeded记录仍然支撑持有
	other := &models.PaymentRecord{
		GatewayIntentID: "pi_test_other",
		UserID:          user.ID,
		ProjectID:       project.ID,
		Amount:          1999,
		Currency:        "USD",
		Status:          models.PaymentStatusSucceeded,
	}
	require.NoError(t, db.Create(other).Error)

	_, err = r.Refund(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))
}

func TestEntitlements_FollowsLifecycle(t *testing.T) {
	r, _, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	ids, err := r.Entitlements(user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	record, err := r.Apply(session.IntentID, Observation{Status: models.PaymentStatusSucceeded}, SourceWebhook)
	require.NoError(t, err)

	ids, err = r.Entitlements(user.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{project.ID}, ids)

	_, err = r.Refund(context.Background(), record.ID)
	require.NoError(t, err)

	ids, err = r.Entitlements(user.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestScenario_FullLifecycle(t *testing.T) {
	r, gw, db := newTestReconciler(t)
	user, project := seedPurchase(t, db)

	// 无历史记录的购买请求创建created状态的记录
	session, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCreated, session.Status)

	// 确认前的重复购买请求返回同一会话，不产生第二条记录
	retry, err := r.Create(context.Background(), user.ID, project.ID, 1999, "usd")
	require.NoError(t, err)
	assert.Equal(t, session.ClientSecret, retry.ClientSecret)
	var count int64
	require.NoError(t, db.Model(&models.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 确认调用得到网关的succeeded状态
	gw.intentStatus = models.PaymentStatusSucceeded
	gw.paymentMethod = "pm_card_visa"
	record, err := r.Confirm(context.Background(), session.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, record.Status)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))

	// 重复的成功webhook投递不改变任何状态
	_, err = r.Apply(session.IntentID, Observation{
		Status:        models.PaymentStatusSucceeded,
		PaymentMethod: "pm_card_visa",
	}, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entitlementCount(t, db, user.ID, project.ID))

	// 管理员退款
	refunded, err := r.Refund(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, int64(0), entitlementCount(t, db, user.ID, project.ID))

	// 同一记录的二次退款被拒绝
	_, err = r.Refund(context.Background(), record.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}
