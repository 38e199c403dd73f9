package snapshot

import (
	"context"
	"errors"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStorageOptions configures RedisStorage.
type RedisStorageOptions struct {
	// Address of the redis server.
	Address string `env:"SNAPSHOT_REDIS_ADDRESS" envDefault:"localhost:6379"`

	// Password of the redis server, empty for none.
	Password string `env:"SNAPSHOT_REDIS_PASSWORD"`

	// Namespace prefixes the snapshot keys so several worlds can share a server.
	Namespace string `env:"SNAPSHOT_REDIS_NAMESPACE" envDefault:"ecs"`
}

// Validate checks the options.
func (opts *RedisStorageOptions) Validate() error {
	if opts.Address == "" {
		return eris.New("redis address cannot be empty")
	}
	if opts.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	return nil
}

// apply overrides the options with the non-zero fields of newOpts.
func (opts *RedisStorageOptions) apply(newOpts RedisStorageOptions) {
	if newOpts.Address != "" {
		opts.Address = newOpts.Address
	}
	if newOpts.Password != "" {
		opts.Password = newOpts.Password
	}
	if newOpts.Namespace != "" {
		opts.Namespace = newOpts.Namespace
	}
}

// RedisStorage implements Storage on a redis server. The current snapshot lives under one key;
// storing a new one moves the current one to a backup key in the same transaction.
type RedisStorage struct {
	client    *redis.Client
	current   string
	backup    string
	ownClient bool
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a redis snapshot storage with its own client. Empty fields of opts are
// read from the environment.
func NewRedisStorage(opts RedisStorageOptions) (*RedisStorage, error) {
	cfg := RedisStorageOptions{}
	if err := env.Parse(&cfg); err != nil {
		return nil, eris.Wrap(err, "failed to parse env")
	}
	cfg.apply(opts)
	opts = cfg
	if err := opts.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid options passed")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
	})
	s := NewRedisStorageWithClient(client, opts.Namespace)
	s.ownClient = true
	return s, nil
}

// NewRedisStorageWithClient creates a redis snapshot storage on an existing client.
func NewRedisStorageWithClient(client *redis.Client, namespace string) *RedisStorage {
	return &RedisStorage{
		client:  client,
		current: namespace + ":snapshot",
		backup:  namespace + ":snapshot:backup",
	}
}

func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return eris.New("snapshot cannot be nil")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "failed to encode snapshot")
	}

	exists, err := r.client.Exists(ctx, r.current).Result()
	if err != nil {
		return eris.Wrap(err, "failed to check for existing snapshot")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if exists > 0 {
			pipe.Rename(ctx, r.current, r.backup)
		}
		pipe.Set(ctx, r.current, data, 0)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to store snapshot")
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.current)
}

// LoadBackup retrieves the snapshot that was current before the last Store.
func (r *RedisStorage) LoadBackup(ctx context.Context) (*Snapshot, error) {
	return r.load(ctx, r.backup)
}

func (r *RedisStorage) load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrSnapshotNotFound, "key %s", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to load snapshot")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, eris.Wrap(err, "failed to decode snapshot")
	}
	return &snapshot, nil
}

// Close closes the redis client if the storage created it.
func (r *RedisStorage) Close() error {
	if !r.ownClient {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis client")
	}
	return nil
}
