package dao

import (
	"gorm.io/gorm"
)

type QueryOption func(db *gorm.DB) *gorm.DB

func WithID(id uint) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithOwner(owner string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("owner = ?", owner)
	}
}

func WithTXID(txID int64) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tx_id = ?", txID)
	}
}

func WithKind(kind string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("kind = ?", kind)
	}
}

// WithIDAfter 分批回放时从上一批最后一条记录之后开始
func WithIDAfter(id uint) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id > ?", id)
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	}
}
