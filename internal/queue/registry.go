package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// repeatRegistry stores repeatable descriptors in Redis hashes, one per queue,
// plus a key -> queue index so RemoveRepeatable needs only the key.
type repeatRegistry struct {
	rdb    redis.UniversalClient
	prefix string
}

func (r *repeatRegistry) queuesKey() string { return r.prefix + ":repeatable:queues" }
func (r *repeatRegistry) indexKey() string { return r.prefix + ":repeatable:index" }
func (r *repeatRegistry) queueKey(queue string) string { return r.prefix + ":repeatable:" + queue }

func (r *repeatRegistry) Put(ctx context.Context, d JobDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal repeatable %s: %w", d.Name, err)
	}
	key := d.Key()
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.queuesKey(), d.Queue)
		pipe.HSet(ctx, r.queueKey(d.Queue), key, data)
		pipe.HSet(ctx, r.indexKey(), key, d.Queue)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store repeatable %s: %w", key, err)
	}
	return nil
}

func (r *repeatRegistry) List(ctx context.Context, queue string) ([]JobDescriptor, error) {
	entries, err := r.rdb.HGetAll(ctx, r.queueKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeatables for %s: %w", queue, err)
	}
	out := make([]JobDescriptor, 0, len(entries))
	for key, data := range entries {
		var d JobDescriptor
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("decode repeatable %s: %w", key, err)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (r *repeatRegistry) All(ctx context.Context) ([]JobDescriptor, error) {
	queues, err := r.rdb.SMembers(ctx, r.queuesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeatable queues: %w", err)
	}
	sort.Strings(queues)
	var out []JobDescriptor
	for _, q := range queues {
		descs, err := r.List(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, descs...)
	}
	return out, nil
}

// Remove deletes a repeatable; removing an unknown key is a no-op.
func (r *repeatRegistry) Remove(ctx context.Context, key string) error {
	queue, err := r.rdb.HGet(ctx, r.indexKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up repeatable %s: %w", key, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.queueKey(queue), key)
		pipe.HDel(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove repeatable %s: %w", key, err)
	}
	return nil
}

// periodicProvider feeds the registry to asynq's PeriodicTaskManager.
type periodicProvider struct {
	registry *repeatRegistry
	log      *zap.Logger
}

func (p *periodicProvider) GetConfigs() ([]*asynq.PeriodicTaskConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	descs, err := p.registry.All(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	configs := make([]*asynq.PeriodicTaskConfig, 0, len(descs))
	for _, d := range descs {
		cfg, err := periodicConfig(d, now)
		if err != nil {
			p.log.Warn("skipping invalid repeatable", zap.String("key", d.Key()), zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// periodicConfig builds the asynq schedule entry for a repeatable. The unique
// option keeps concurrent schedulers from enqueueing the same run twice.
func periodicConfig(d JobDescriptor, now time.Time) (*asynq.PeriodicTaskConfig, error) {
	period, err := d.Options.Repeat.Period(now)
	if err != nil {
		return nil, err
	}
	occ := d.occurrence()
	task, err := newTask(occ)
	if err != nil {
		return nil, err
	}
	opts := taskOptions(occ)
	if period >= time.Second {
		opts = append(opts, asynq.Unique(period))
	}
	return &asynq.PeriodicTaskConfig{
		Cronspec: d.Options.Repeat.Spec(),
		Task:     task,
		Opts:     opts,
	}, nil
}
