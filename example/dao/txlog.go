package dao

import (
	"context"

	"gorm.io/gorm"
)

// TXLogPO 事务日志表，每行一条状态变更记录，按自增 id 回放.
// 多个协调者共用一张表，owner 为写入记录的协调者名称
type TXLogPO struct {
	gorm.Model
	Owner   string `gorm:"column:owner;index:idx_owner_tx_id"`
	TXID    int64  `gorm:"column:tx_id;index:idx_owner_tx_id"`
	XID     string `gorm:"column:xid"`
	Kind    string `gorm:"column:kind"`
	Payload string `gorm:"column:payload"`
}

func (t TXLogPO) TableName() string {
	return "tx_log"
}

type txIDRange struct {
	Low  int64
	High int64
}

type TXLogDAO struct {
	db *gorm.DB
}

func NewTXLogDAO(db *gorm.DB) *TXLogDAO {
	return &TXLogDAO{
		db: db,
	}
}

// GetTXLogs 按 id 升序返回记录
func (t *TXLogDAO) GetTXLogs(ctx context.Context, opts ...QueryOption) ([]*TXLogPO, error) {
	db := t.db.WithContext(ctx).Model(&TXLogPO{})
	for _, opt := range opts {
		db = opt(db)
	}

	var records []*TXLogPO
	return records, db.Order("id ASC").Scan(&records).Error
}

// ListTXLogs 分页读取某个协调者的记录
func (t *TXLogDAO) ListTXLogs(ctx context.Context, owner string, afterID uint, limit int) ([]*TXLogPO, error) {
	return t.GetTXLogs(ctx, WithOwner(owner), WithIDAfter(afterID), WithLimit(limit))
}

// GetTXIDRange 返回某个协调者写入过的最小与最大事务 id，包括已经软删除的记录
func (t *TXLogDAO) GetTXIDRange(ctx context.Context, owner string) (int64, int64, error) {
	var idRange txIDRange
	err := t.db.WithContext(ctx).Unscoped().Model(&TXLogPO{}).
		Select("COALESCE(MIN(tx_id), 0) AS low, COALESCE(MAX(tx_id), 0) AS high").
		Where("owner = ?", owner).
		Scan(&idRange).Error
	return idRange.Low, idRange.High, err
}

func (t *TXLogDAO) CreateTXLog(ctx context.Context, record *TXLogPO) (uint, error) {
	err := t.db.WithContext(ctx).Model(&TXLogPO{}).Create(record).Error
	return record.ID, err
}

// DeleteTXLogs 事务到达终态后清理其全部记录，只影响同一个协调者写入的记录
func (t *TXLogDAO) DeleteTXLogs(ctx context.Context, owner string, txID int64) error {
	return t.db.WithContext(ctx).Where("owner = ? AND tx_id = ?", owner, txID).Delete(&TXLogPO{}).Error
}
