package models

// Provider names as stored on Integration rows.
const (
	IntegrationProviderStripe      = "stripe"
	IntegrationProviderMpesa       = "mpesa"
	IntegrationProviderShopify     = "shopify"
	IntegrationProviderWooCommerce = "woocommerce"
	IntegrationProviderResend      = "resend"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "Draft"
	InvoiceStatusSent  InvoiceStatus = "Sent"
	InvoiceStatusPaid  InvoiceStatus = "Paid"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
)

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCommon UserRole = "C"
)
