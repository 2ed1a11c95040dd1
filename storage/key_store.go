package storage

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrKeyNotFound      = errors.New("API key not found in the database")
	ErrKeyAlreadyExists = errors.New("API key already exists in the database")
)

// KeyStore 提供了与数据库中 KeyRecord 表交互的所有方法。
// 数据库是密钥状态的唯一写入者记录，池索引的所有变更先经过这里提交。
type KeyStore struct {
	db *gorm.DB
}

// NewKeyStore 创建一个新的 KeyStore 实例。
func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db}
}

// Create 向数据库中添加一条新的密钥记录。
// 同一服务类别内密钥字符串必须唯一，重复时返回 ErrKeyAlreadyExists。
// 软删除的旧行仍占用 (service, key) 唯一索引，重新添加同一密钥前先物理
// 清除旧行；审计历史不受影响，删除密钥的事件通过 KeySuffix 仍可辨识。
func (s *KeyStore) Create(rec *KeyRecord) error {
	if err := s.db.Unscoped().
		Where("service = ? AND `key` = ? AND deleted_at IS NOT NULL", rec.Service, rec.Key).
		Delete(&KeyRecord{}).Error; err != nil {
		return err
	}
	result := s.db.Where(KeyRecord{Service: rec.Service, Key: rec.Key}).Attrs(rec).FirstOrCreate(rec)
	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 说明记录已存在，FirstOrCreate 没有创建新记录。
	if result.RowsAffected == 0 {
		return ErrKeyAlreadyExists
	}
	return nil
}

// ListByService 获取某一服务类别下所有未被软删除的密钥记录。
// 池索引重建（启动或崩溃恢复）从这里读取全量数据。
func (s *KeyStore) ListByService(service string) ([]*KeyRecord, error) {
	var keys []*KeyRecord
	if err := s.db.Where("service = ?", service).Order("id asc").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// ListPaginated 分页获取某一服务类别的密钥记录，并返回总记录数。
func (s *KeyStore) ListPaginated(service string, offset, limit int) ([]*KeyRecord, int64, error) {
	var keys []*KeyRecord
	var totalCount int64

	if err := s.db.Model(&KeyRecord{}).Where("service = ?", service).Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	query := s.db.Where("service = ?", service).
		Order("created_at desc").Offset(offset).Limit(limit).Find(&keys)
	if query.Error != nil {
		return nil, 0, query.Error
	}

	return keys, totalCount, nil
}

// GetByID 通过主键获取一条密钥记录。
func (s *KeyStore) GetByID(id uint) (*KeyRecord, error) {
	var rec KeyRecord
	result := s.db.First(&rec, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

// GetByKey 通过服务类别与密钥字符串获取一条密钥记录。
func (s *KeyStore) GetByKey(service, keyStr string) (*KeyRecord, error) {
	var rec KeyRecord
	result := s.db.Where("service = ? AND `key` = ?", service, keyStr).First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

// UpdateFields 更新一条密钥记录的特定字段。
// 状态、计数器、时间戳等全部通过显式字段映射写入，避免整行覆盖。
func (s *KeyStore) UpdateFields(id uint, updates map[string]interface{}) error {
	result := s.db.Model(&KeyRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// UpdateFieldsWithAudit 在同一事务中更新密钥字段并追加一条审计事件。
// 提供给要求两者要么同时成功要么同时失败的调用方（例如管理员直接设置状态）。
// 常规状态转换不使用该方法：审计写入失败不得回滚已提交的状态变更。
func (s *KeyStore) UpdateFieldsWithAudit(id uint, updates map[string]interface{}, event *AuditLog) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&KeyRecord{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrKeyNotFound
		}
		return tx.Create(event).Error
	})
}

// Delete 通过主键软删除一条密钥记录。
// 软删除保证已删除密钥的审计历史仍可通过 KeyID 关联回溯。
func (s *KeyStore) Delete(id uint) error {
	result := s.db.Delete(&KeyRecord{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}
