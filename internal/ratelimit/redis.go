package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore is an alternate Store backed by Redis, for deployments that
// already run a Redis cluster shared across several proxy instances. Each
// row is a Redis hash; admission is a single Lua script so the read and
// write halves of the algorithm stay atomic under concurrent callers,
// mirroring the corpus's Redis-backed limiter but implementing the
// continuous sliding-window algorithm rather than a calendar bucket key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// admitScript implements applyAdmission atomically against a Redis hash.
//
// KEYS[1] = row key
// ARGV[1] = rateLimit
// ARGV[2] = windowSeconds
// ARGV[3] = now (unix seconds, float)
// ARGV[4] = id to use if the row does not yet exist
var admitScript = redis.NewScript(`
local key = KEYS[1]
local rateLimit = tonumber(ARGV[1])
local windowSeconds = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local id = redis.call("HGET", key, "id")
local count, windowStart, total, rejected
if id then
    count = tonumber(redis.call("HGET", key, "count"))
    windowStart = tonumber(redis.call("HGET", key, "time"))
    total = tonumber(redis.call("HGET", key, "total"))
    rejected = tonumber(redis.call("HGET", key, "rejected"))
else
    id = ARGV[4]
    count, windowStart, total, rejected = 0, 0, 0, 0
end

local admitted
if count == 0 or (windowStart + windowSeconds) <= now then
    count, windowStart, admitted = 1, now, 1
    total = total + 1
elseif count < rateLimit then
    count, admitted = count + 1, 1
    total = total + 1
else
    rejected = rejected + 1
    admitted = 0
end

redis.call("HSET", key, "id", id, "count", count, "rate", rateLimit, "time", tostring(windowStart), "total", total, "rejected", rejected)
return {id, count, rateLimit, tostring(windowStart), total, rejected, admitted}
`)

func (r *RedisStore) Admit(ctx context.Context, url, referrer string, rateLimit int64, windowSeconds float64, now float64) (MeterRow, bool, error) {
	res, err := admitScript.Run(ctx, r.client, []string{redisRowKey(url, referrer)},
		rateLimit, windowSeconds, now, NewRowID(),
	).Slice()
	if err != nil {
		return MeterRow{}, false, fmt.Errorf("ratelimit/redis: admit: %w", err)
	}
	return parseAdmitReply(url, referrer, res)
}

func (r *RedisStore) Seed(ctx context.Context, url, referrer string, rateLimit int64) error {
	key := redisRowKey(url, referrer)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratelimit/redis: seed exists: %w", err)
	}
	if exists > 0 {
		return nil
	}
	return r.client.HSet(ctx, key,
		"id", NewRowID(), "count", 0, "rate", rateLimit, "time", 0, "total", 0, "rejected", 0,
	).Err()
}

func (r *RedisStore) Get(ctx context.Context, url, referrer string) (MeterRow, bool, error) {
	vals, err := r.client.HGetAll(ctx, redisRowKey(url, referrer)).Result()
	if err != nil {
		return MeterRow{}, false, fmt.Errorf("ratelimit/redis: get: %w", err)
	}
	if len(vals) == 0 {
		return MeterRow{}, false, nil
	}

	row := MeterRow{ID: vals["id"], URL: url, Referrer: referrer}
	row.WindowCount, _ = strconv.ParseInt(vals["count"], 10, 64)
	row.RateLimit, _ = strconv.ParseInt(vals["rate"], 10, 64)
	row.WindowStart, _ = strconv.ParseFloat(vals["time"], 64)
	row.Total, _ = strconv.ParseInt(vals["total"], 10, 64)
	row.Rejected, _ = strconv.ParseInt(vals["rejected"], 10, 64)
	return row, true, nil
}

// All is unsupported for RedisStore without maintaining a side index of
// row keys: it always returns an error, so the status page lists no meter
// rows when this backend is configured.
func (r *RedisStore) All(_ context.Context) ([]MeterRow, error) {
	return nil, fmt.Errorf("ratelimit/redis: All is not supported, use Get per (url, referrer)")
}

func (r *RedisStore) Reset(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisRowKey(url, referrer string) string {
	return "geoproxy:meter:" + url + "\x00" + referrer
}

func parseAdmitReply(url, referrer string, res []interface{}) (MeterRow, bool, error) {
	if len(res) != 7 {
		return MeterRow{}, false, fmt.Errorf("ratelimit/redis: unexpected script reply shape: %v", res)
	}
	row := MeterRow{URL: url, Referrer: referrer}
	row.ID, _ = res[0].(string)
	row.WindowCount = toInt64(res[1])
	row.RateLimit = toInt64(res[2])
	windowStartStr, _ := res[3].(string)
	row.WindowStart, _ = strconv.ParseFloat(windowStartStr, 64)
	row.Total = toInt64(res[4])
	row.Rejected = toInt64(res[5])
	admitted := toInt64(res[6]) == 1
	return row, admitted, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
