package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const maxPruneBatch = 1000

// pruner trims a queue's completed and archived tasks to the newest N.
type pruner struct {
	inspector *asynq.Inspector
	queue     string
	policy    RetentionPolicy
	interval  time.Duration
	log       *zap.Logger
}

func (p *pruner) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.prune()
			if err != nil {
				p.log.Warn("retention prune failed", zap.String("queue", p.queue), zap.Error(err))
				continue
			}
			if n > 0 {
				p.log.Debug("retention pruned", zap.String("queue", p.queue), zap.Int("deleted", n))
			}
		}
	}
}

func (p *pruner) prune() (int, error) {
	info, err := p.inspector.GetQueueInfo(p.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	deleted := 0
	// Both listings are ordered oldest first.
	if excess := info.Completed - p.policy.KeepCompleted; excess > 0 {
		tasks, err := p.inspector.ListCompletedTasks(p.queue, asynq.PageSize(min(excess, maxPruneBatch)))
		if err != nil {
			return deleted, err
		}
		deleted += p.delete(tasks)
	}
	if excess := info.Archived - p.policy.KeepFailed; excess > 0 {
		tasks, err := p.inspector.ListArchivedTasks(p.queue, asynq.PageSize(min(excess, maxPruneBatch)))
		if err != nil {
			return deleted, err
		}
		deleted += p.delete(tasks)
	}
	return deleted, nil
}

func (p *pruner) delete(tasks []*asynq.TaskInfo) int {
	n := 0
	for _, t := range tasks {
		if err := p.inspector.DeleteTask(p.queue, t.ID); err != nil {
			p.log.Debug("delete task failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
