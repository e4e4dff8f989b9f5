// Package cache implements the resilient, parallel-API-and-cache read
// strategy of C4, for the two slow, large, rarely-changing listings:
// accounts and permission sets.
//
// Grounded on the teacher's agents/manager/internal/state/store.go
// load/persist-to-JSON idiom, generalized from a local file to the shared
// object store, and on agents/resource-broker/main.go's mutex-guarded
// store shape for the in-process half of the contract.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"

	"github.com/fivexl/sso-elevator/internal/objectstore"
)

// Fetcher is the slow, live API call the cache sits in front of.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Cache wraps a Store with the read protocol of §4.4.
type Cache struct {
	store  objectstore.Store
	bucket string
	logger *log.Logger
}

// New constructs a Cache over the given object store bucket.
func New(store objectstore.Store, bucket string, logger *log.Logger) *Cache {
	return &Cache{store: store, bucket: bucket, logger: logger}
}

// result carries either a value or an error back from the API and the
// cache goroutines (§5: "C4's cache-and-API are performed in
// parallel; the return order does not matter").
type result[T any] struct {
	value T
	err   error
}

// Read implements the protocol of §4.4 for a single cache key and a value
// type T that round-trips through JSON.
//
//   - both succeed, equal      -> return API value, no write
//   - both succeed, different  -> return API value, write-through
//   - API ok, cache fails      -> return API value, write-through best effort
//   - API fails, cache ok      -> return cached value, log a warning
//   - both fail                -> propagate the API error
func Read[T any](ctx context.Context, c *Cache, key string, fetch Fetcher[T]) (T, error) {
	apiCh := make(chan result[T], 1)
	cacheCh := make(chan result[T], 1)

	go func() {
		v, err := fetch(ctx)
		apiCh <- result[T]{value: v, err: err}
	}()
	go func() {
		v, err := readCachedTyped[T](ctx, c, key)
		cacheCh <- result[T]{value: v, err: err}
	}()

	api := <-apiCh
	cached := <-cacheCh

	if api.err != nil {
		if cached.err == nil {
			c.logger.Printf("cache: API read for %s failed (%v), serving cached value", key, api.err)
			return cached.value, nil
		}
		var zero T
		return zero, fmt.Errorf("cache: API read for %s failed and no cached value available: %w", key, api.err)
	}

	// API succeeded.
	if cached.err != nil {
		// Cache read failed/missing: write-through best effort, never
		// caller-visible (§4.4 invariants).
		c.writeThrough(ctx, key, api.value)
		return api.value, nil
	}

	if !reflect.DeepEqual(api.value, cached.value) {
		c.writeThrough(ctx, key, api.value)
	}
	return api.value, nil
}

// readCachedTyped performs the actual cache read+unmarshal for type T. It
// is a free function (not a method) because Go methods cannot themselves
// introduce new type parameters.
func readCachedTyped[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	data, err := c.store.Get(ctx, c.bucket, key)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("unmarshal cached %s: %w", key, err)
	}
	return v, nil
}

func (c *Cache) writeThrough(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Printf("cache: marshal %s for write-through: %v", key, err)
		return
	}
	if err := c.store.Put(ctx, c.bucket, key, data); err != nil {
		// Cache writes never cause a caller-visible failure (§4.4).
		c.logger.Printf("cache: write-through for %s failed (ignored): %v", key, err)
	}
}

// AccountsKey and PermissionSetKey implement §4.4's keying scheme.
const AccountsKey = "accounts.json"

// PermissionSetKey escapes ':' and '/' out of an ARN for use as an object
// key, per §4.4 ("<arn-with-separators-escaped>").
func PermissionSetKey(arn string) string {
	escaped := make([]byte, 0, len(arn))
	for i := 0; i < len(arn); i++ {
		switch arn[i] {
		case ':', '/':
			escaped = append(escaped, '_')
		default:
			escaped = append(escaped, arn[i])
		}
	}
	return "permission_sets/" + string(escaped) + ".json"
}
