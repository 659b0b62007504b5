package app

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// CheckoutLimiter builds the per-client throttle for the checkout endpoint.
// The rate uses the "<count>-<period>" notation, e.g. "30-M" for thirty
// submissions per minute per client IP.
func CheckoutLimiter(rdb *redis.Client, rateSpec, prefix string) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(rateSpec)
	if err != nil {
		return nil, fmt.Errorf("parse checkout rate %q: %w", rateSpec, err)
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: prefix + ":checkout_limiter",
	})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	middleware := mhttp.NewMiddleware(limiter.New(store, rate, limiter.WithTrustForwardHeader(true)))
	return middleware.Handler, nil
}
