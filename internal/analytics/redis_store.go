package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cmz:analytics"

// luaIngest applies one event atomically.
// KEYS[1] = dedup key, KEYS[2] = bucket hash
// ARGV[1] = dedup TTL (s), ARGV[2] = confidence, ARGV[3] = severity field,
// ARGV[4] = escalated (0/1), ARGV[5] = blocked (0/1), ARGV[6] = bucket TTL (s)
// Returns 1 when applied, 0 for a duplicate.
var luaIngest = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', tonumber(ARGV[1])) then
    return 0
end
redis.call('HINCRBY', KEYS[2], 'trigger_count', 1)
redis.call('HINCRBYFLOAT', KEYS[2], 'confidence_sum', ARGV[2])
redis.call('HINCRBY', KEYS[2], ARGV[3], 1)
redis.call('HINCRBY', KEYS[2], 'escalation_count', tonumber(ARGV[4]))
redis.call('HINCRBY', KEYS[2], 'block_count', tonumber(ARGV[5]))
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[6]))
return 1
`)

// RedisStore keeps hourly buckets as Redis hashes that expire with the
// retention period.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(url string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, retention), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: defaultRedisPrefix, retention: retention}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) bucketKey(ruleID string, hour time.Time) string {
	return fmt.Sprintf("%s:bucket:%s:%d", s.prefix, ruleID, hour.Unix())
}

func (s *RedisStore) seenKey(ev Event) string {
	return fmt.Sprintf("%s:seen:%s:%s", s.prefix, ev.ValidationID, ev.RuleID)
}

// Ingest runs luaIngest. Bucket TTL runs from the end of the bucket's hour.
func (s *RedisStore) Ingest(ctx context.Context, ev Event, dedupWindow time.Duration) (bool, error) {
	hour := HourBucket(ev.DetectedAt)
	ttl := time.Until(hour.Add(time.Hour).Add(s.retention))
	if ttl < time.Second {
		ttl = time.Second
	}
	res, err := luaIngest.Run(ctx, s.client,
		[]string{s.seenKey(ev), s.bucketKey(ev.RuleID, hour)},
		seconds(dedupWindow),
		strconv.FormatFloat(ev.Confidence, 'f', -1, 64),
		severityField(ev.Severity),
		boolInt(ev.Escalated),
		boolInt(ev.Blocked),
		seconds(ttl),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis ingest: %w", err)
	}
	return res == 1, nil
}

// Buckets reads every hour in [from, to) in one pipeline.
func (s *RedisStore) Buckets(ctx context.Context, ruleID string, from, to time.Time) ([]Bucket, error) {
	from, to = HourBucket(from), HourBucket(to)
	var hours []time.Time
	for h := from; h.Before(to); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	if len(hours) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hours))
	for i, h := range hours {
		cmds[i] = pipe.HGetAll(ctx, s.bucketKey(ruleID, h))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis buckets: %w", err)
	}

	var out []Bucket
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("redis bucket %s: %w", hours[i].Format(time.RFC3339), err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, bucketFromHash(ruleID, hours[i], fields))
	}
	return out, nil
}

// Prune is a no-op: keys expire on their own.
func (s *RedisStore) Prune(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func bucketFromHash(ruleID string, hour time.Time, f map[string]string) Bucket {
	i := func(k string) int64 {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return n
	}
	sum, _ := strconv.ParseFloat(f["confidence_sum"], 64)
	return Bucket{
		RuleID:          ruleID,
		Hour:            hour,
		TriggerCount:    i("trigger_count"),
		ConfidenceSum:   sum,
		Critical:        i("critical"),
		High:            i("high"),
		Medium:          i("medium"),
		Low:             i("low"),
		EscalationCount: i("escalation_count"),
		BlockCount:      i("block_count"),
	}
}

func seconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
