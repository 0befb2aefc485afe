package config

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/commerce_backend/appctx"
)

func TestBusinessIdFromContext(t *testing.T) {
	if got := businessIdFromContext(context.Background()); got != "" {
		t.Errorf("businessIdFromContext(empty) = %q, want empty", got)
	}
	ctx := appctx.Set(context.Background(), appctx.ContextKeyBusinessId, "b1")
	if got := businessIdFromContext(ctx); got != "b1" {
		t.Errorf("businessIdFromContext = %q, want b1", got)
	}
}

func TestShouldBypassTenantScope(t *testing.T) {
	base := context.Background()
	if shouldBypassTenantScope(base) {
		t.Error("empty context bypasses tenant scope")
	}
	if !shouldBypassTenantScope(appctx.Set(base, appctx.ContextKeySkipTenantScope, true)) {
		t.Error("skip flag did not bypass tenant scope")
	}
	if !shouldBypassTenantScope(appctx.Set(base, appctx.ContextKeyIsAdmin, true)) {
		t.Error("admin flag did not bypass tenant scope")
	}
	if shouldBypassTenantScope(appctx.Set(base, appctx.ContextKeyIsAdmin, false)) {
		t.Error("false admin flag bypassed tenant scope")
	}
}
