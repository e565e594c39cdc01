// Package jobs hosts the gateway's ticker-driven background work, kept to
// the same start/stop/done-channel shape the teacher uses for its periodic
// maintenance job.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// LockRefreshJob periodically touches the Session Lock for every tenant
// whose lock this process currently holds, so a connection that sits
// quiet between connection-update events never has its lease go stale out
// from under it.
type LockRefreshJob struct {
	activeKeys func() []string
	touch      func(ctx context.Context, apiKey string) (bool, error)
	interval   time.Duration
	done       chan struct{}
}

func NewLockRefreshJob(
	activeKeys func() []string,
	touch func(ctx context.Context, apiKey string) (bool, error),
	interval time.Duration,
) *LockRefreshJob {
	return &LockRefreshJob{
		activeKeys: activeKeys,
		touch:      touch,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *LockRefreshJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("lock refresh job started")
}

func (j *LockRefreshJob) Stop() {
	close(j.done)
	log.Info().Msg("lock refresh job stopped")
}

func (j *LockRefreshJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.refresh()
		}
	}
}

func (j *LockRefreshJob) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, apiKey := range j.activeKeys() {
		held, err := j.touch(ctx, apiKey)
		if err != nil {
			log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to refresh session lock")
			continue
		}
		if !held {
			log.Warn().Str("apiKey", apiKey).Msg("lost session lock ownership between refreshes")
		}
	}
}
