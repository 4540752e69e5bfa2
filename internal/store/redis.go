package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proposalgate/proposalgate/internal/model"
)

const (
	redisScanBatchSize = 500
	redisMaxRetries    = 128
)

var errTxContention = errors.New("redis transaction contention")

// RedisStore keeps JSON-encoded records in Redis. Puts use SETNX; every
// state transition runs inside WATCH/MULTI and is retried when another
// client modified the key first.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server described by opts.
func NewRedisStore(ctx context.Context, opts Options) (*RedisStore, error) {
	if opts.RedisAddr == "" {
		return nil, errors.New("redis store requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return NewRedisStoreFromClient(client, opts.RedisPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "proposalgate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) credentialKey(id string) string { return r.prefix + ":cred:" + id }
func (r *RedisStore) sessionKey(id string) string    { return r.prefix + ":sess:" + id }

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) put(ctx context.Context, key string, v interface{}, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", what, err)
	}
	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("put %s: %w", what, err)
	}
	if !ok {
		return ErrDuplicateReference
	}
	return nil
}

func (r *RedisStore) get(ctx context.Context, key string, v interface{}, what string) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", what, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// update runs a compare-and-swap on key. mutate decodes the current value
// and returns the replacement, nil for no write, or an error to abort.
func (r *RedisStore) update(ctx context.Context, key, what string, mutate func([]byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("get %s: %w", what, err)
		}
		out, err := mutate(data)
		if err != nil || out == nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", what, errTxContention)
}

func (r *RedisStore) updateCredential(ctx context.Context, id string, fn func(*model.Credential) (bool, error)) (*model.Credential, error) {
	var result model.Credential
	err := r.update(ctx, r.credentialKey(id), "credential", func(data []byte) ([]byte, error) {
		var c model.Credential
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode credential: %w", err)
		}
		write, err := fn(&c)
		if err != nil {
			return nil, err
		}
		result = c
		if !write {
			return nil, nil
		}
		return json.Marshal(&c)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *RedisStore) updateSession(ctx context.Context, id string, fn func(*model.Session) (bool, error)) (*model.Session, error) {
	var result model.Session
	err := r.update(ctx, r.sessionKey(id), "session", func(data []byte) ([]byte, error) {
		var s model.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		write, err := fn(&s)
		if err != nil {
			return nil, err
		}
		result = s
		if !write {
			return nil, nil
		}
		return json.Marshal(&s)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *RedisStore) PutCredential(ctx context.Context, c *model.Credential) error {
	return r.put(ctx, r.credentialKey(c.ID), c, "credential")
}

func (r *RedisStore) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var c model.Credential
	if err := r.get(ctx, r.credentialKey(id), &c, "credential"); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisStore) MarkConsumed(ctx context.Context, id string, at time.Time) (*model.Credential, error) {
	return r.updateCredential(ctx, id, func(c *model.Credential) (bool, error) {
		if err := usable(c, at); err != nil {
			return false, err
		}
		used := at.UTC()
		c.State = model.CredentialConsumed
		c.UseCount++
		c.LastUsedAt = &used
		return true, nil
	})
}

func (r *RedisStore) RecordUse(ctx context.Context, id string, at time.Time) (*model.Credential, error) {
	return r.updateCredential(ctx, id, func(c *model.Credential) (bool, error) {
		if err := usable(c, at); err != nil {
			return false, err
		}
		used := at.UTC()
		c.UseCount++
		c.LastUsedAt = &used
		return true, nil
	})
}

func (r *RedisStore) MarkExpired(ctx context.Context, id string) error {
	_, err := r.updateCredential(ctx, id, func(c *model.Credential) (bool, error) {
		if c.State != model.CredentialActive {
			return false, nil
		}
		c.State = model.CredentialExpired
		return true, nil
	})
	return err
}

func (r *RedisStore) RevokeCredential(ctx context.Context, id, by string, at time.Time) error {
	_, err := r.updateCredential(ctx, id, func(c *model.Credential) (bool, error) {
		if c.State != model.CredentialActive {
			return false, nil
		}
		revoked := at.UTC()
		c.State = model.CredentialRevoked
		c.RevokedBy = by
		c.RevokedAt = &revoked
		return true, nil
	})
	return err
}

// scan returns every key under match.
func (r *RedisStore) scan(ctx context.Context, match string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, redisScanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scan keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// loadAll fetches and decodes the values stored under keys. Keys deleted
// between SCAN and MGET are skipped.
func (r *RedisStore) loadAll(ctx context.Context, keys []string, decode func([]byte) error) error {
	for start := 0; start < len(keys); start += redisScanBatchSize {
		end := start + redisScanBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		values, err := r.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return fmt.Errorf("get multiple keys: %w", err)
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if err := decode([]byte(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RedisStore) ListCredentials(ctx context.Context, f CredentialFilter) ([]model.Credential, error) {
	keys, err := r.scan(ctx, r.credentialKey("*"))
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]model.Credential, 0)
	err = r.loadAll(ctx, keys, func(data []byte) error {
		var c model.Credential
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decode credential: %w", err)
		}
		if f.match(&c) {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	if n := limitOf(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *RedisStore) PutSession(ctx context.Context, s *model.Session) error {
	return r.put(ctx, r.sessionKey(s.ID), s, "session")
}

func (r *RedisStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := r.get(ctx, r.sessionKey(id), &s, "session"); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) TouchSession(ctx context.Context, id string, at time.Time) (*model.Session, error) {
	return r.updateSession(ctx, id, func(s *model.Session) (bool, error) {
		if s.State != model.SessionActive || s.ExpiredAt(at) {
			return false, ErrSessionEnded
		}
		touched := at.UTC()
		s.LastAccessedAt = &touched
		return true, nil
	})
}

func (r *RedisStore) ExtendSession(ctx context.Context, id string, increment time.Duration, maxExtensions int, at time.Time) (*model.Session, error) {
	return r.updateSession(ctx, id, func(s *model.Session) (bool, error) {
		if s.State != model.SessionActive || s.ExpiredAt(at) {
			return false, ErrSessionEnded
		}
		if s.ExtensionCount >= maxExtensions {
			return false, ErrMaxExtensionsReached
		}
		touched := at.UTC()
		s.ExpiresAt = s.ExpiresAt.Add(increment)
		s.ExtensionCount++
		s.LastAccessedAt = &touched
		return true, nil
	})
}

func (r *RedisStore) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.updateSession(ctx, id, func(s *model.Session) (bool, error) {
		if s.State != model.SessionActive {
			return false, nil
		}
		ended := at.UTC()
		s.State = model.SessionEnded
		s.EndReason = reason
		s.EndedAt = &ended
		return true, nil
	})
	return err
}

func (r *RedisStore) ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error) {
	keys, err := r.scan(ctx, r.sessionKey("*"))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, 0)
	err = r.loadAll(ctx, keys, func(data []byte) error {
		var s model.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if f.match(&s) {
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := limitOf(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type expiryOnly struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// deleteIfBefore removes key when its record expired before cutoff. The
// check and the delete share one WATCH so a concurrent extension wins.
func (r *RedisStore) deleteIfBefore(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	var deleted bool
	txf := func(tx *redis.Tx) error {
		deleted = false
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var rec expiryOnly
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !rec.ExpiresAt.Before(cutoff) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}
	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return deleted, err
	}
	return false, errTxContention
}

func (r *RedisStore) SweepExpired(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	for _, kind := range []string{"cred", "sess"} {
		keys, err := r.scan(ctx, r.prefix+":"+kind+":*")
		if err != nil {
			return res, fmt.Errorf("sweep: %w", err)
		}
		for _, key := range keys {
			deleted, err := r.deleteIfBefore(ctx, key, cutoff)
			if err != nil {
				return res, fmt.Errorf("sweep %s: %w", strings.TrimPrefix(key, r.prefix+":"), err)
			}
			if !deleted {
				continue
			}
			if kind == "cred" {
				res.Credentials++
			} else {
				res.Sessions++
			}
		}
	}
	return res, nil
}
