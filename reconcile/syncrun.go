package reconcile

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

// QueueSyncRun inserts a queued SyncRun row and returns it. The row is the
// unit of work carried over Pub/Sub (or run inline when Pub/Sub is not
// configured).
func QueueSyncRun(ctx context.Context, businessId, provider, action, triggeredBy string) (*models.SyncRun, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	run := models.SyncRun{
		BusinessId:  businessId,
		Provider:    provider,
		Action:      action,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// StartSyncRun flips a queued run to running. Returns false when the run
// was already picked up, so a redelivered Pub/Sub message does not execute
// the sync twice.
func StartSyncRun(ctx context.Context, runId int) (bool, error) {
	db := config.GetDB()
	if db == nil {
		return false, errors.New("db is nil")
	}
	now := time.Now().UTC()
	result := db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", runId, models.SyncRunStatusQueued).
		Updates(map[string]interface{}{
			"status":     models.SyncRunStatusRunning,
			"started_at": &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FinishSyncRun records the outcome. Status is derived from the counters:
// all good is success, everything failed is failed, a mix is partial.
func FinishSyncRun(ctx context.Context, runId int, synced, failed int, runErr error) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	status := models.SyncRunStatusSuccess
	message := ""
	switch {
	case runErr != nil:
		status = models.SyncRunStatusFailed
		message = runErr.Error()
	case failed > 0 && synced > 0:
		status = models.SyncRunStatusPartial
	case failed > 0:
		status = models.SyncRunStatusFailed
	}

	var run models.SyncRun
	if err := db.WithContext(ctx).Take(&run, "id = ?", runId).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	durationMs := int64(0)
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	return db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runId).
		Updates(map[string]interface{}{
			"status":         status,
			"records_synced": synced,
			"error_count":    failed,
			"error_message":  message,
			"finished_at":    &now,
			"duration_ms":    durationMs,
		}).Error
}

// ListSyncRuns returns the most recent runs for a business, newest first.
func ListSyncRuns(ctx context.Context, businessId string, limit int) ([]models.SyncRun, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var runs []models.SyncRun
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
