//go:build integration

package testutil

import (
	"context"
	"testing"
)

// Database numbers used by the device layout.
const (
	ApplDB     = 0
	CountersDB = 2
	StateDB    = 6
)

// FlushDevice empties every database the device client touches.
func FlushDevice(t *testing.T) {
	t.Helper()
	for _, db := range []int{ApplDB, CountersDB, StateDB} {
		if err := RedisClient(t, db).FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flushing DB %d: %v", db, err)
		}
	}
}

// WriteHash writes a hash at key in db, replacing any previous value.
func WriteHash(t *testing.T, db int, key string, fields map[string]string) {
	t.Helper()

	client := RedisClient(t, db)
	ctx := context.Background()

	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pipe := client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, args...)
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatalf("writing %s: %v", key, err)
	}
}

// ReadHash returns the hash at key in db, or an empty map.
func ReadHash(t *testing.T, db int, key string) map[string]string {
	t.Helper()

	vals, err := RedisClient(t, db).HGetAll(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", key, err)
	}
	return vals
}

// KeyCount returns the number of keys in db matching pattern.
func KeyCount(t *testing.T, db int, pattern string) int {
	t.Helper()

	keys, err := RedisClient(t, db).Keys(context.Background(), pattern).Result()
	if err != nil {
		t.Fatalf("listing %s: %v", pattern, err)
	}
	return len(keys)
}
