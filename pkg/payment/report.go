package payment

import (
	"bytes"
	"time"

	"github.com/flaboy/aira-market/pkg/crud"
	"github.com/flaboy/aira-market/pkg/hashid"
	"github.com/flaboy/aira-market/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var Dec100 = decimal.NewFromInt(100)

// amountToDecimal 分转元
func amountToDecimal(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v).Div(Dec100)
	return &d
}

// PaymentStatistics 按封闭状态枚举统计，不再有"paid/completed"之类的同义词
type PaymentStatistics struct {
	Counts         map[models.PaymentStatus]int64 `json:"counts"`
	SucceededTotal *decimal.Decimal               `json:"succeeded_total"`
	RefundedTotal  *decimal.Decimal               `json:"refunded_total"`
}

// Statistics 支付记录统计
func (r *Reconciler) Statistics() (*PaymentStatistics, error) {
	var rows []struct {
		Status models.PaymentStatus
		Count  int64
		Total  int64
	}
	err := r.db.Model(&models.PaymentRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &PaymentStatistics{
		Counts:         make(map[models.PaymentStatus]int64),
		SucceededTotal: amountToDecimal(0),
		RefundedTotal:  amountToDecimal(0),
	}
	for _, row := range rows {
		stats.Counts[row.Status] = row.Count
		switch row.Status {
		case models.PaymentStatusSucceeded:
			stats.SucceededTotal = amountToDecimal(row.Total)
		case models.PaymentStatusRefunded:
			stats.RefundedTotal = amountToDecimal(row.Total)
		}
	}
	return stats, nil
}

// AdminPaymentView 管理端展示的支付记录
type AdminPaymentView struct {
	PaymentHashID string               `json:"payment_hash_id"`
	IntentID      string               `json:"intent_id"`
	UserID        uint                 `json:"user_id"`
	ProjectID     uint                 `json:"project_id"`
	Amount        *decimal.Decimal     `json:"amount"`
	Currency      string               `json:"currency"`
	Status        models.PaymentStatus `json:"status"`
	PaymentMethod string               `json:"payment_method,omitempty"`
	Error         string               `json:"error,omitempty"`
	RefundID      string               `json:"refund_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// ListPayments 管理端分页查询
func (r *Reconciler) ListPayments(form *crud.QueryForm) ([]AdminPaymentView, error) {
	var records []models.PaymentRecord
	tx := r.db.Model(&models.PaymentRecord{})
	err := tx.Count(&form.Pagination.Total).
		Order("id DESC").
		Offset((form.Pagination.Page - 1) * form.Pagination.Size).
		Limit(form.Pagination.Size).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	views := make([]AdminPaymentView, 0, len(records))
	for _, rec := range records {
		views = append(views, adminViewOf(&rec))
	}
	return views, nil
}

func adminViewOf(rec *models.PaymentRecord) AdminPaymentView {
	return AdminPaymentView{
		PaymentHashID: hashid.Encode(HashIDTypePayment, rec.ID),
		IntentID:      rec.GatewayIntentID,
		UserID:        rec.UserID,
		ProjectID:     rec.ProjectID,
		Amount:        amountToDecimal(rec.Amount),
		Currency:      rec.Currency,
		Status:        rec.Status,
		PaymentMethod: rec.PaymentMethod,
		Error:         rec.Error,
		RefundID:      rec.RefundID,
		CreatedAt:     rec.CreatedAt,
		CompletedAt:   rec.CompletedAt,
	}
}

// ExportXLSX 导出全部支付记录为Excel
func (r *Reconciler) ExportXLSX() (*bytes.Buffer, error) {
	var records []models.PaymentRecord
	if err := r.db.Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Payments"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []interface{}{
		"Payment ID", "Intent ID", "User ID", "Project ID",
		"Amount", "Currency", "Status", "Payment Method",
		"Error", "Refund ID", "Created At", "Completed At",
	}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, err
	}

	for i, rec := range records {
		completedAt := ""
		if rec.CompletedAt != nil {
			completedAt = rec.CompletedAt.Format(time.RFC3339)
		}
		row := []interface{}{
			hashid.Encode(HashIDTypePayment, rec.ID),
			rec.GatewayIntentID,
			rec.UserID,
			rec.ProjectID,
			amountToDecimal(rec.Amount).String(),
			rec.Currency,
			string(rec.Status),
			rec.PaymentMethod,
			rec.Error,
			rec.RefundID,
			rec.CreatedAt.Format(time.RFC3339),
			completedAt,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	return f.WriteToBuffer()
}
