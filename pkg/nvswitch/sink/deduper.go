package sink

import (
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
)

func cacheKey(id int, msg string) string {
	return fmt.Sprintf("%d-%s", id, msg)
}

// deduper counts identical SXid lines seen within the expiration window.
type deduper struct {
	cache *cache.Cache
}

func newDeduper(expiration time.Duration, purgeInterval time.Duration) *deduper {
	return &deduper{
		cache: cache.New(expiration, purgeInterval),
	}
}

// add returns the number of times the line was seen in the window,
// including this one. Repeats do not extend the window.
func (d *deduper) add(id int, msg string) int {
	k := cacheKey(id, msg)
	if err := d.cache.Add(k, 1, cache.DefaultExpiration); err == nil {
		return 1
	}
	freq, err := d.cache.IncrementInt(k, 1)
	if err != nil {
		// expired between Add and IncrementInt
		d.cache.Set(k, 1, cache.DefaultExpiration)
		return 1
	}
	return freq
}
