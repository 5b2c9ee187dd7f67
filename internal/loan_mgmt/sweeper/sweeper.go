package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"lendledger/internal/loan_mgmt/loan"
	"lendledger/internal/platform/config"
	"lendledger/internal/platform/metrics"
)

// Ledger は定期処理で使う台帳の操作
type Ledger interface {
	GetOverdue() []loan.Record
	DeleteHistoryOlderThan(ctx context.Context, cutoff int64) (int, error)
}

type Result struct {
	Overdue int
	Purged  int
}

// Sweeper は期限切れの集計と履歴の保持期間切れ削除を cron で回す
type Sweeper struct {
	ledger    Ledger
	log       logrus.FieldLogger
	schedule  string
	retention time.Duration
	now       func() time.Time
	cron      *cron.Cron
}

func New(l Ledger, log logrus.FieldLogger, cfg config.Sweeper) *Sweeper {
	log = log.WithField("component", "sweeper")
	cl := cron.PrintfLogger(log)
	return &Sweeper{
		ledger:    l,
		log:       log,
		schedule:  cfg.Schedule,
		retention: time.Duration(cfg.HistoryRetentionDays) * time.Duration(loan.DayMillis) * time.Millisecond,
		now:       time.Now,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start はスケジュールが空なら何もしない
func (s *Sweeper) Start() error {
	if s.schedule == "" {
		s.log.Info("sweeper disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("sweeper started")
	return nil
}

// Stop は実行中のジョブの終了を待つ context を返す
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result

	overdue := s.ledger.GetOverdue()
	res.Overdue = len(overdue)
	metrics.OverdueLoans.Set(float64(len(overdue)))
	now := s.now().UnixMilli()
	for _, r := range overdue {
		s.log.WithFields(logrus.Fields{
			"loan_id":      r.ID,
			"group_id":     r.GroupID,
			"lender":       r.LenderID,
			"borrower":     r.BorrowerID,
			"item":         r.ItemName,
			"overdue_days": (now - r.DueTimestamp) / loan.DayMillis,
		}).Warn("loan overdue")
	}

	if s.retention > 0 {
		cutoff := s.now().Add(-s.retention).UnixMilli()
		n, err := s.ledger.DeleteHistoryOlderThan(ctx, cutoff)
		if err != nil {
			s.log.WithError(err).Error("history retention failed")
		}
		res.Purged = n
	}
	return res
}
