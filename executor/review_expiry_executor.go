package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(ReviewExpiryExecutor)

type ReviewExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	RetryHandoffs(ctx context.Context, now time.Time) (int, error)
}

type ReviewExpiryExecutor struct {
	expirer  ReviewExpirer
	clock    util.Clock
	interval time.Duration
	wg       *sync.WaitGroup
	stop     chan struct{}
	tw       *util.TickWorker
}

func NewReviewExpiryExecutor(expirer ReviewExpirer, clock util.Clock, interval time.Duration, wg *sync.WaitGroup) *ReviewExpiryExecutor {
	return &ReviewExpiryExecutor{
		expirer:  expirer,
		clock:    clock,
		interval: interval,
		wg:       wg,
		stop:     make(chan struct{}),
	}
}

func (ex *ReviewExpiryExecutor) Name() string {
	return "review-expiry-executor"
}

func (ex *ReviewExpiryExecutor) Start() error {
	fn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), ex.interval)
		defer cancel()
		now := ex.clock.Now()
		n, err := ex.expirer.ExpireOverdue(ctx, now)
		if err != nil {
			logger.Error("error expiring committee reviews", zap.Error(err))
		} else if n > 0 {
			logger.Info("committee reviews closed", zap.Int("count", n))
		}
		n, err = ex.expirer.RetryHandoffs(ctx, now)
		if err != nil {
			logger.Error("error handing off committee outcomes", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("committee outcomes handed off", zap.Int("count", n))
		}
	}
	ex.tw = util.NewTickWorker("review-expiry-worker", ex.interval, ex.stop, fn, ex.wg)
	ex.tw.Start()
	logger.Info("review expiry executor started")
	return nil
}

func (ex *ReviewExpiryExecutor) Stop() error {
	if ex.tw != nil {
		ex.tw.Stop()
	}
	return nil
}
