package distance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// CachedEstimator fronts a slower estimator with a redis lookup keyed by the
// coordinate pair. Cache failures fall through to the inner estimator.
type CachedEstimator struct {
	Inner  Estimator
	Client *redis.Client
	TTL    time.Duration
}

func NewCachedEstimator(inner Estimator, addr, password string, ttl time.Duration) *CachedEstimator {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &CachedEstimator{Inner: inner, Client: c, TTL: ttl}
}

func cacheKey(from, to models.Coord) string {
	return fmt.Sprintf("dist:%.6f,%.6f->%.6f,%.6f", from.Lat, from.Lon, to.Lat, to.Lon)
}

func (c *CachedEstimator) Miles(ctx context.Context, from, to models.Coord) (float64, error) {
	key := cacheKey(from, to)
	if v, err := c.Client.Get(ctx, key).Result(); err == nil {
		if miles, perr := strconv.ParseFloat(v, 64); perr == nil {
			return miles, nil
		}
	}
	miles, err := c.Inner.Miles(ctx, from, to)
	if err != nil {
		return 0, err
	}
	_ = c.Client.Set(ctx, key, strconv.FormatFloat(miles, 'f', 6, 64), c.TTL).Err()
	return miles, nil
}
