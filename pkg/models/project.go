package models

import (
	"time"

	"github.com/flaboy/aira-market/pkg/migration"
)

type ProjectStatus string

const (
	ProjectStatusDraft     ProjectStatus = "draft"
	ProjectStatusPublished ProjectStatus = "published"
	ProjectStatusArchived  ProjectStatus = "archived"
)

type Project struct {
	ID          uint          `gorm:"primaryKey"`
	Name        string        `gorm:"size:255"`
	Slug        string        `gorm:"size:100;uniqueIndex"`
	Price       int64         `gorm:"not null"` // 价格（分）
	Currency    string        `gorm:"size:10;default:'USD'"`
	Status      ProjectStatus `gorm:"size:20;default:'draft'"`
	DownloadURL string        `gorm:"size:500"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Project) TableName() string {
	return "am_projects"
}

// Purchasable 项目是否可购买
func (p *Project) Purchasable() bool {
	return p.Status == ProjectStatusPublished && p.Price > 0
}

func init() {
	migration.RegisterAutoMigrateModels(&Project{})
}
