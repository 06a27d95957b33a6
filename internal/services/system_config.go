package services

import (
	"errors"
	"strconv"

	"github.com/tradeya/backend/internal/models"
	"gorm.io/gorm"
)

// Keys of runtime settings kept in system_configs.
const (
	ConfigLogRetentionDays    = "log_retention_days"
	ConfigAccessTokenHours    = "auth_access_token_expire_hours"
	ConfigRefreshTokenHours   = "auth_refresh_token_expire_hours"
	ConfigRegistrationEnabled = "registration_enabled"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt returns the setting as an int, or defaultValue when it is unset or
// not a number.
func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(s.GetWithDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func (s *SystemConfigService) GetBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(s.GetWithDefault(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateBatch writes several settings in one transaction.
func (s *SystemConfigService) UpdateBatch(values map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		txSvc := &SystemConfigService{db: tx}
		for k, v := range values {
			if err := txSvc.Set(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
