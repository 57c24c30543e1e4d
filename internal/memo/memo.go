// Package memo is a read-through cache with write-back over the preference
// store: a miss runs the generator once and persists the result for good.
package memo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyValue is returned when the generator produced nothing worth storing.
var ErrEmptyValue = errors.New("memo: generator returned empty value")

// Store is the persistence the cache reads through.
type Store interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}

// GenerateFunc produces the value for a missing key.
type GenerateFunc func(ctx context.Context) (string, error)

type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get returns the stored value for key, generating and storing it on a miss.
// generated reports whether this call ran the generator. Concurrent misses for
// the same key share one generation. Failed or empty generations are not
// stored.
func (c *Cache) Get(ctx context.Context, key string, gen GenerateFunc) (value string, generated bool, err error) {
	if v, ok, err := c.lookup(ctx, key); err != nil || ok {
		return v, false, err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have stored the value while we waited.
		if v, ok, err := c.lookup(ctx, key); err != nil || ok {
			return v, err
		}
		v, err := gen(ctx)
		if err != nil {
			return "", fmt.Errorf("generate %q: %w", key, err)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return "", ErrEmptyValue
		}
		if err := c.store.SetPreference(ctx, key, v); err != nil {
			return "", fmt.Errorf("store %q: %w", key, err)
		}
		generated = true
		return v, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), generated, nil
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.store.GetPreference(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("lookup %q: %w", key, err)
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}
