package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 永続化失敗は握りつぶしてログに出すだけなので、運用側はこのカウンタで検知する
var (
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendledger_persistence_failures_total",
		Help: "Failed load/save operations against the key/value store by operation and document",
	}, []string{"op", "document"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendledger_ledger_operations_total",
		Help: "Ledger operations by name and result",
	}, []string{"op", "result"})

	ActiveLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendledger_active_loans",
		Help: "Number of loans in the active set",
	})

	OverdueLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendledger_overdue_loans",
		Help: "Number of active loans past their due date at the last sweep",
	})

	HistoryPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendledger_history_purged_total",
		Help: "Closed loan records removed by history retention",
	})
)

const (
	OpLoad   = "load"
	OpSave   = "save"
	OpDelete = "delete"

	ResultOK = "ok"
)
