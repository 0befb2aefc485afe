package reconcile

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/google/uuid"
)

// NewWebhookLog records receipt of a raw provider event. Audit only; a
// failure to write the log never blocks webhook processing.
func NewWebhookLog(ctx context.Context, businessId, provider, eventType string, payload []byte) *models.WebhookLog {
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.New().String()
	}

	log := models.WebhookLog{
		BusinessId:    businessId,
		Provider:      provider,
		EventType:     eventType,
		Payload:       payload,
		Status:        models.WebhookStatusPending,
		CorrelationId: correlationId,
	}

	db := config.GetDB()
	if db == nil {
		return &log
	}
	if err := db.WithContext(ctx).Create(&log).Error; err != nil {
		config.LogError(config.GetLogger(), "reconcile", "NewWebhookLog", provider, eventType, err)
	}
	return &log
}

// MarkWebhookProcessed closes the audit record as successfully handled.
func MarkWebhookProcessed(ctx context.Context, log *models.WebhookLog) {
	finishWebhookLog(ctx, log, models.WebhookStatusProcessed, "")
}

// MarkWebhookFailed closes the audit record with the handler error.
func MarkWebhookFailed(ctx context.Context, log *models.WebhookLog, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	finishWebhookLog(ctx, log, models.WebhookStatusFailed, message)
}

func finishWebhookLog(ctx context.Context, log *models.WebhookLog, status models.WebhookStatus, message string) {
	if log == nil || log.ID == 0 {
		return
	}
	db := config.GetDB()
	if db == nil {
		return
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": message,
		"processed_at":  &now,
	}
	if err := db.WithContext(ctx).Model(&models.WebhookLog{}).Where("id = ?", log.ID).Updates(updates).Error; err != nil {
		config.LogError(config.GetLogger(), "reconcile", "finishWebhookLog", log.Provider, log.EventType, err)
	}
}
