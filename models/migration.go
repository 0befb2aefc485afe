package models

import (
	"log"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Customer{},
		&Product{}, &Location{}, &InventoryLevel{},
		&Order{}, &OrderItem{},
		&Invoice{},
		&Payment{},
		&Integration{}, &IntegrationEntityMapping{}, &WebhookLog{}, &SyncRun{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
