package payment

import (
	"github.com/flaboy/aira-market/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// grantEntitlement 存储层原子add-to-set，confirm与webhook并发授予时
// 冲突的插入被忽略
func (r *Reconciler) grantEntitlement(tx *gorm.DB, userID, projectID, paymentID uint) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Entitlement{
		UserID:    userID,
		ProjectID: projectID,
		PaymentID: paymentID,
	}).Error
}

// revokeEntitlement 退款后移除持有。同一(user, project)还存在其他
// succeeded记录时保留（持有当且仅当存在succeeded记录）
func (r *Reconciler) revokeEntitlement(tx *gorm.DB, refunded *models.PaymentRecord) error {
	var remaining int64
	err := tx.Model(&models.PaymentRecord{}).
		Where("user_id = ? AND project_id = ? AND status = ? AND id <> ?",
			refunded.UserID, refunded.ProjectID, models.PaymentStatusSucceeded, refunded.ID).
		Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.Where("user_id = ? AND project_id = ?", refunded.UserID, refunded.ProjectID).
		Delete(&models.Entitlement{}).Error
}

// HasEntitlement 用户是否持有项目
func (r *Reconciler) HasEntitlement(userID, projectID uint) bool {
	var count int64
	r.db.Model(&models.Entitlement{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Count(&count)
	return count > 0
}

// Entitlements 用户持有的全部项目ID
func (r *Reconciler) Entitlements(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Entitlement{}).
		Where("user_id = ?", userID).
		Order("project_id").
		Pluck("project_id", &ids).Error
	return ids, err
}
