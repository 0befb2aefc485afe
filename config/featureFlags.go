package config

import (
	"os"
	"strings"
)

// StrictWebhookSignatures makes Shopify/WooCommerce webhook handlers reject
// requests whose HMAC does not verify. Off by default: store integrations are
// frequently misconfigured during onboarding and a mismatch is logged either
// way. Stripe signature verification is always enforced when a secret exists.
//
// Set via env:
// - WEBHOOK_STRICT_SIGNATURES=true
func StrictWebhookSignatures() bool {
	return boolFromEnv("WEBHOOK_STRICT_SIGNATURES")
}

// MpesaProduction selects the live Daraja endpoints instead of the sandbox.
//
// Set via env:
// - MPESA_PRODUCTION=true
func MpesaProduction() bool {
	return boolFromEnv("MPESA_PRODUCTION")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
