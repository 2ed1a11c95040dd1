package storage

import (
	"time"

	"gorm.io/gorm"
)

// AuditStore 提供审计日志表的追加与查询。
// 事件只追加不修改；唯一的删除路径是基于时间的保留清理。
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore 创建一个新的 AuditStore 实例。
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append 追加一条审计事件。
func (s *AuditStore) Append(event *AuditLog) error {
	return s.db.Create(event).Error
}

// AuditFilter 描述审计日志查询的过滤与分页条件。
type AuditFilter struct {
	Service string      // 为空表示全部服务类别
	KeyID   *uint       // 按密钥过滤
	Action  AuditAction // 为空表示全部动作
	Offset  int
	Limit   int
}

// Query 分页查询审计日志，按时间倒序返回，并附带满足条件的总数。
func (s *AuditStore) Query(filter AuditFilter) ([]*AuditLog, int64, error) {
	query := s.db.Model(&AuditLog{})
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}
	if filter.KeyID != nil {
		query = query.Where("key_id = ?", *filter.KeyID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	var events []*AuditLog
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	result := query.Order("id desc").Offset(filter.Offset).Limit(limit).Find(&events)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return events, totalCount, nil
}

// PruneOlderThan 删除早于给定时长的审计事件，返回删除的行数。
// age <= 0 表示保留全部，直接返回。
func (s *AuditStore) PruneOlderThan(age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-age)
	result := s.db.Where("created_at < ?", cutoff).Delete(&AuditLog{})
	return result.RowsAffected, result.Error
}
