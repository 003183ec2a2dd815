package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// ScoreCache stores proxy scores as decimal strings under
// <prefix>score:<namespace>:<molecule key>.  It satisfies
// sehproxy.ScoreCache.
type ScoreCache struct {
	client    *Client
	namespace string
	ttl       time.Duration
	// OnAccess observes hit and miss counts of each lookup; nil is allowed.
	OnAccess func(hits, misses int)
}

// NewScoreCache scopes entries to namespace, typically the proxy model
// name so that different checkpoints never share scores.  A zero ttl
// keeps entries forever.
func NewScoreCache(c *Client, namespace string, ttl time.Duration) *ScoreCache {
	if namespace == "" {
		namespace = "default"
	}
	return &ScoreCache{client: c, namespace: namespace, ttl: ttl}
}

func (s *ScoreCache) key(k string) string {
	return s.client.Key("score", s.namespace, k)
}

// GetScores returns the cached subset of keys.
func (s *ScoreCache) GetScores(ctx context.Context, keys []string) (map[string]float64, error) {
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}
	if s.client.isClosed() {
		return nil, ErrClientClosed
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.client.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheError, "failed to get scores")
	}
	out := make(map[string]float64, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			s.client.logger.Warn("dropping corrupt score entry", logging.String("key", full[i]))
			continue
		}
		out[keys[i]] = f
	}
	if s.OnAccess != nil {
		s.OnAccess(len(out), len(keys)-len(out))
	}
	return out, nil
}

// SetScores writes all scores in one pipeline.
func (s *ScoreCache) SetScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	if s.client.isClosed() {
		return ErrClientClosed
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	_, err := s.client.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Set(ctx, s.key(k), strconv.FormatFloat(scores[k], 'g', -1, 64), s.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheError, "failed to set scores")
	}
	return nil
}

// Purge removes every entry of the namespace and returns the count.
func (s *ScoreCache) Purge(ctx context.Context) (int64, error) {
	var n int64
	iter := s.client.rdb.Scan(ctx, 0, s.key("*"), 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		d, err := s.client.rdb.Del(ctx, batch...).Result()
		n += d
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return n, errors.Wrap(err, errors.CodeCacheError, "purge failed")
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, errors.Wrap(err, errors.CodeCacheError, "scan failed")
	}
	if err := flush(); err != nil {
		return n, errors.Wrap(err, errors.CodeCacheError, "purge failed")
	}
	return n, nil
}
