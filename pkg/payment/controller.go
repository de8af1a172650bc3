package payment

import (
	"context"

	"github.com/flaboy/aira-market/pkg/crud"
	apperrors "github.com/flaboy/aira-market/pkg/errors"
	"github.com/flaboy/aira-market/pkg/hashid"
	"github.com/flaboy/pin"
)

// UserResolver 从请求解析当前用户，由业务系统注入（认证不在本模块内）
type UserResolver func(c *pin.Context) (uint, error)

// Controller 支付HTTP入口
type Controller struct {
	reconciler   *Reconciler
	resolveUser  UserResolver
	resolveAdmin UserResolver
}

func NewController(r *Reconciler, user, admin UserResolver) *Controller {
	return &Controller{reconciler: r, resolveUser: user, resolveAdmin: admin}
}

// HandleRequest 处理支付相关请求
func (pc *Controller) HandleRequest(c *pin.Context, method, path string) error {
	switch {
	case method == "POST" && path == "purchase":
		return pc.Purchase(c)
	case method == "POST" && path == "confirm":
		return pc.Confirm(c)
	case method == "POST" && path == "webhook":
		return pc.Webhook(c)
	case method == "POST" && path == "refund":
		return pc.Refund(c)
	case method == "GET" && path == "entitlements":
		return pc.Entitlements(c)
	case method == "GET" && path == "records":
		return pc.Records(c)
	case method == "GET" && path == "statistics":
		return pc.Statistics(c)
	case method == "GET" && path == "export":
		return pc.Export(c)
	default:
		c.JSON(404, map[string]string{"error": "Not found"})
		return nil
	}
}

// Purchase POST purchase
func (pc *Controller) Purchase(c *pin.Context) error {
	userID, err := pc.resolveUser(c)
	if err != nil {
		return apperrors.ErrUnauthorized
	}

	var req struct {
		ProjectID string `json:"project_id" binding:"required"`
		Amount    int64  `json:"amount" binding:"required"`
		Currency  string `json:"currency" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		return err
	}

	projectID, err := hashid.Decode(HashIDTypeProject, req.ProjectID)
	if err != nil {
		return apperrors.ErrProjectNotFound
	}

	session, err := pc.reconciler.Create(context.Background(), userID, projectID, req.Amount, req.Currency)
	if err != nil {
		return err
	}
	return c.Render(session)
}

// Confirm POST confirm
func (pc *Controller) Confirm(c *pin.Context) error {
	userID, err := pc.resolveUser(c)
	if err != nil {
		return apperrors.ErrUnauthorized
	}

	var req struct {
		IntentID string `json:"intent_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		return err
	}

	record, err := pc.reconciler.FindByIntent(req.IntentID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return apperrors.ErrUnauthorized
	}

	record, err = pc.reconciler.Confirm(context.Background(), req.IntentID)
	if err != nil {
		return err
	}
	return c.Render(map[string]interface{}{
		"payment_hash_id": hashid.Encode(HashIDTypePayment, record.ID),
		"status":          record.Status,
	})
}

// Webhook POST webhook，无认证但必须验签。响应码决定网关是否重投：
// 400 拒绝（验签失败），500 重投（存储故障），200 确认
func (pc *Controller) Webhook(c *pin.Context) error {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(400, map[string]string{"error": "unreadable body"})
		return nil
	}

	result, err := pc.reconciler.DispatchWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if err == apperrors.ErrInvalidSignature {
			c.JSON(400, map[string]string{"error": "invalid signature"})
			return nil
		}
		c.JSON(500, map[string]string{"error": "processing failed"})
		return nil
	}
	c.JSON(200, result)
	return nil
}

// Refund POST refund（仅管理员）
func (pc *Controller) Refund(c *pin.Context) error {
	if _, err := pc.resolveAdmin(c); err != nil {
		return apperrors.ErrAdminRequired
	}

	var req struct {
		PaymentID string `json:"payment_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		return err
	}

	paymentID, err := hashid.Decode(HashIDTypePayment, req.PaymentID)
	if err != nil {
		return apperrors.ErrPaymentNotFound
	}

	record, err := pc.reconciler.Refund(context.Background(), paymentID)
	if err != nil {
		return err
	}
	return c.Render(map[string]interface{}{
		"payment_hash_id": req.PaymentID,
		"status":          record.Status,
		"refund_id":       record.RefundID,
	})
}

// Entitlements GET entitlements，当前用户持有的项目
func (pc *Controller) Entitlements(c *pin.Context) error {
	userID, err := pc.resolveUser(c)
	if err != nil {
		return apperrors.ErrUnauthorized
	}

	ids, err := pc.reconciler.Entitlements(userID)
	if err != nil {
		return err
	}

	projects := make([]string, 0, len(ids))
	for _, id := range ids {
		projects = append(projects, hashid.Encode(HashIDTypeProject, id))
	}
	return c.Render(map[string]interface{}{"projects": projects})
}

// Records GET records（仅管理员）
func (pc *Controller) Records(c *pin.Context) error {
	if _, err := pc.resolveAdmin(c); err != nil {
		return apperrors.ErrAdminRequired
	}

	form := crud.QueryForm{}
	if err := form.Parse(c); err != nil {
		return err
	}

	items, err := pc.reconciler.ListPayments(&form)
	if err != nil {
		return err
	}
	return c.Render(crud.QueryResult{Items: items, Pagination: &form.Pagination})
}

// Statistics GET statistics（仅管理员）
func (pc *Controller) Statistics(c *pin.Context) error {
	if _, err := pc.resolveAdmin(c); err != nil {
		return apperrors.ErrAdminRequired
	}

	stats, err := pc.reconciler.Statistics()
	if err != nil {
		return err
	}
	return c.Render(stats)
}

// Export GET export（仅管理员）
func (pc *Controller) Export(c *pin.Context) error {
	if _, err := pc.resolveAdmin(c); err != nil {
		return apperrors.ErrAdminRequired
	}

	buf, err := pc.reconciler.ExportXLSX()
	if err != nil {
		return err
	}

	c.Header("Content-Disposition", `attachment; filename="payments.xlsx"`)
	c.Data(200, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	return nil
}
