package scheduler

import (
	"context"
	"fmt"
	"time"

	"marketcache/internal/logger"
)

// AlignedScheduler runs a task right after each interval boundary (plus
// Offset), so pulls land just after a bar closes.
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done. Tasks run sequentially; a slow task delays
// the next wake-up instead of overlapping with it.
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if s == nil || task == nil {
		return fmt.Errorf("scheduler: task is nil")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler[%s]: invalid interval=%s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("scheduler[%s]: negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler[%s]: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)
		logger.Debugf("scheduler[%s]: 距离K线收盘=%s (收盘=%s) 将在=%s 执行 | uptime=%s",
			s.Name,
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("scheduler[%s]: ctx done, exit", s.Name)
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	return nextClose, wakeAt, wakeAt.Sub(now)
}
