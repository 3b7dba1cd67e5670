package media

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/metrics"
)

// Outcome summarises one Purge call.
type Outcome struct {
	Attempted int
	Failed    map[string]error // public id -> error
}

// Purger fans deletions of many objects out over a shared goroutine pool.
type Purger struct {
	remover Remover
	pool    *ants.Pool
	log     *zap.Logger
}

// NewPurger returns a Purger. With a nil pool deletions run sequentially on
// the calling goroutine.
func NewPurger(remover Remover, pool *ants.Pool, log *zap.Logger) *Purger {
	return &Purger{remover: remover, pool: pool, log: logger.OrNop(log)}
}

// NewPool builds the worker pool used by Purger. A panicking deletion is
// logged and does not take the process down.
func NewPool(size int, log *zap.Logger) (*ants.Pool, error) {
	log = logger.OrNop(log)
	if size <= 0 {
		size = 1
	}
	return ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		log.Error("media delete panicked", zap.Any("panic", p))
	}))
}

// Purge asks for deletion of every public id and waits for all attempts.
// It never fails as a whole; individual failures are logged and returned in
// the outcome.
func (p *Purger) Purge(ctx context.Context, publicIDs []string) Outcome {
	out := Outcome{Attempted: len(publicIDs)}
	if len(publicIDs) == 0 || p.remover == nil {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(id string, err error) {
		if err == nil {
			metrics.MediaDeletes.WithLabelValues("ok").Inc()
			return
		}
		metrics.MediaDeletes.WithLabelValues("failed").Inc()
		p.log.Warn("media delete failed", zap.String("public_id", id), zap.Error(err))
		mu.Lock()
		if out.Failed == nil {
			out.Failed = make(map[string]error)
		}
		out.Failed[id] = err
		mu.Unlock()
	}

	for _, id := range publicIDs {
		id := id
		task := func() {
			defer wg.Done()
			record(id, p.remover.Remove(ctx, id))
		}

		wg.Add(1)
		if p.pool == nil {
			task()
			continue
		}
		if err := p.pool.Submit(task); err != nil {
			// Pool closed or saturated: fall back to the caller's goroutine.
			task()
		}
	}

	wg.Wait()
	return out
}
