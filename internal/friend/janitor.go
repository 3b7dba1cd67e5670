package friend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
)

// Expirer deletes friend requests past their deleteAt.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RunJanitor deletes expired requests every interval until ctx is done.
// Lookups already ignore expired rows; the janitor only reclaims space.
func RunJanitor(ctx context.Context, exp Expirer, every time.Duration, log *zap.Logger) {
	log = logger.OrNop(log).Named("friend-janitor")
	if every <= 0 {
		every = time.Hour
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, exp, log)
		}
	}
}

func sweep(ctx context.Context, exp Expirer, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := exp.DeleteExpired(ctx)
	if err != nil {
		log.Error("delete expired friend requests failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired friend requests deleted", zap.Int64("count", n))
	}
}
