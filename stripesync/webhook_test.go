package stripesync

import (
	"context"
	"testing"
)

func TestSigningSecretEnvFallback(t *testing.T) {
	// No database in unit tests, so the integration lookup fails and the
	// process-level secret is all that can resolve.
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	if got := signingSecretFor(context.Background(), "b1"); got != "whsec_env" {
		t.Errorf("signingSecretFor = %q, want whsec_env", got)
	}

	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	if got := signingSecretFor(context.Background(), "b1"); got != "" {
		t.Errorf("signingSecretFor = %q, want empty with no integration and no env", got)
	}
}
