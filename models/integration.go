package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
)

// Integration holds per-tenant provider credentials. A row with an empty
// business_id is a global (platform-level) fallback.
type Integration struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Provider   string    `gorm:"index;size:50;not null" json:"provider"`
	ApiKey     string    `gorm:"type:text" json:"api_key"`
	SecretKey  string    `gorm:"type:text" json:"secret_key"`
	ShopUrl    string    `gorm:"size:255" json:"shop_url"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetActiveIntegration resolves the single active integration for
// (provider, business). Fails closed: zero rows or more than one active row
// both come back as ErrIntegrationNotConfigured. Results are cached in Redis
// with a short TTL; cache misses fall through to the database.
func GetActiveIntegration(ctx context.Context, businessId, provider string) (*Integration, error) {
	cacheKey := "Integration:" + businessId + ":" + provider

	var cached Integration
	if ok, err := config.GetRedisObject(cacheKey, &cached); err == nil && ok {
		return &cached, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var rows []Integration
	err := db.WithContext(ctx).
		Where("business_id = ? AND provider = ? AND is_active = ?", businessId, provider, true).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, ErrIntegrationNotConfigured
	}

	integration := rows[0]
	_ = config.SetRedisObject(cacheKey, integration, 5*time.Minute)
	return &integration, nil
}

var ErrIntegrationNotConfigured = errors.New("integration not configured")

// InvalidateIntegrationCache drops the cached credentials after an update.
func InvalidateIntegrationCache(businessId, provider string) {
	_ = config.RemoveRedisKey("Integration:" + businessId + ":" + provider)
}

// IntegrationEntityMapping records (provider, external_id) -> internal id so
// replayed provider events resolve to the already-created row instead of
// inserting a duplicate. Unique constraint makes the reconciler idempotent
// by construction.
type IntegrationEntityMapping struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BusinessId string     `gorm:"uniqueIndex:idx_integration_mapping,priority:1;not null" json:"business_id"`
	Provider   string     `gorm:"uniqueIndex:idx_integration_mapping,priority:2;size:50;not null" json:"provider"`
	EntityType string     `gorm:"uniqueIndex:idx_integration_mapping,priority:3;size:50;not null" json:"entity_type"`
	ExternalId string     `gorm:"uniqueIndex:idx_integration_mapping,priority:4;size:128;not null" json:"external_id"`
	InternalId int        `gorm:"not null" json:"internal_id"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	MappingEntityOrder   = "order"
	MappingEntityProduct = "product"
)

// WebhookLog is written once on receipt and updated on completion. It is an
// audit record, not a dedup mechanism; idempotency lives in IdempotencyKey
// and IntegrationEntityMapping.
type WebhookLog struct {
	ID            int           `gorm:"primary_key" json:"id"`
	BusinessId    string        `gorm:"index" json:"business_id"`
	Provider      string        `gorm:"index;size:50;not null" json:"provider"`
	EventType     string        `gorm:"size:100" json:"event_type"`
	Payload       []byte        `gorm:"type:json" json:"payload"`
	Status        WebhookStatus `gorm:"type:enum('pending','processed','failed');not null;default:pending" json:"status"`
	ErrorMessage  string        `gorm:"type:text" json:"error_message"`
	CorrelationId string        `gorm:"size:64" json:"correlation_id"`
	ProcessedAt   *time.Time    `json:"processed_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRun records one catalog/inventory sync execution.
type SyncRun struct {
	ID            int        `gorm:"primary_key" json:"id"`
	BusinessId    string     `gorm:"index;not null" json:"business_id"`
	Provider      string     `gorm:"index;size:50;not null" json:"provider"`
	Action        string     `gorm:"size:50;not null" json:"action"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
