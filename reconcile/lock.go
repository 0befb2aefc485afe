package reconcile

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"github.com/bsm/redislock"
)

// WithPaymentLock serializes payment application for one external reference
// within a business. Best effort: when Redis is unavailable the handler runs
// unlocked and the idempotency key on the database still prevents double
// application.
func WithPaymentLock(ctx context.Context, businessId, reference string, fn func() error) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return fn()
	}

	key := "PaymentLock:" + businessId + ":" + reference
	lock, err := locker.Obtain(ctx, key, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 10),
	})
	if err != nil {
		config.LogError(config.GetLogger(), "reconcile", "WithPaymentLock", key, nil, err)
		return fn()
	}
	defer lock.Release(ctx)

	return fn()
}
