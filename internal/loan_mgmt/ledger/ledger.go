package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"lendledger/internal/loan_mgmt/loan"
	"lendledger/internal/platform/metrics"
)

// 延長日数の上限（10年）。DueTimestamp のオーバーフロー防止
const MaxExtendDays = 3650

// Gateway は永続化層。失敗はすべて Gateway 側でログに出して握りつぶす
type Gateway interface {
	LoadEntries(ctx context.Context) map[string]loan.Record
	LoadHistory(ctx context.Context) []loan.Record
	LoadGroupData(ctx context.Context, groupID string) loan.GroupData
	SaveSnapshot(ctx context.Context, snap loan.Snapshot)
	ClearEntries(ctx context.Context)
	ClearHistory(ctx context.Context)
	DeleteGroupData(ctx context.Context, groupID string)
}

// Ledger は貸出状態の唯一の正本。
// 変更系はライタロック mu で直列化し、最後にスナップショットを1バッチで書く。
// 参照系は mu を取らない（変更の前後どちらの状態が見えるかは保証しない）。
type Ledger struct {
	mu    sync.Mutex
	gw    Gateway
	clock Clock
	id    IDGen
	log   logrus.FieldLogger

	active *xsync.MapOf[string, loan.Record]
	index  atomic.Pointer[Index]

	histMu  sync.RWMutex
	history []loan.Record

	// recorder.<groupId> の available（出品情報）。台帳では解釈しない。mu で保護
	offers map[string]map[string][]json.RawMessage
}

type Option func(*Ledger)

func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }
func WithIDGen(g IDGen) Option { return func(l *Ledger) { l.id = g } }

func New(gw Gateway, log logrus.FieldLogger, opts ...Option) *Ledger {
	l := &Ledger{
		gw:     gw,
		clock:  realClock{},
		id:     ulidGen{},
		log:    log.WithField("component", "ledger"),
		active: xsync.NewMapOf[string, loan.Record](),
		offers: map[string]map[string][]json.RawMessage{},
	}
	l.index.Store(newIndex())
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load は起動時に永続化済みの状態を読み込み、インデックスを entries から再構築する。
// entries に残っていたクローズ済みの貸出は history へ移す。
func (l *Ledger) Load(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, rekeyed := rekey(l.log, l.gw.LoadEntries(ctx))
	history := l.gw.LoadHistory(ctx)

	seen := make(map[string]struct{}, len(history))
	for _, r := range history {
		seen[r.ID] = struct{}{}
	}
	moved := 0
	for id, r := range entries {
		if r.ReturnTimestamp == 0 && r.CloseReason == "" {
			continue
		}
		delete(entries, id)
		moved++
		if _, dup := seen[id]; dup {
			continue
		}
		if r.ReturnTimestamp > 0 {
			// 返却時刻があるなら双方確認済み。フラグが欠けていれば補う
			if !r.LenderConfirmedReturn || !r.BorrowerConfirmedReturn {
				l.recordLog(r).Warn("returned loan without both confirmations; marking both confirmed")
				r.LenderConfirmedReturn, r.BorrowerConfirmedReturn = true, true
			}
			r.CloseReason = loan.CloseReturned
		}
		history = append(history, r)
		seen[id] = struct{}{}
	}

	l.active.Clear()
	groups := map[string]struct{}{}
	for id, r := range entries {
		l.active.Store(id, r)
		groups[r.GroupID] = struct{}{}
	}
	for _, r := range history {
		groups[r.GroupID] = struct{}{}
	}
	l.index.Store(Rebuild(entries))

	l.histMu.Lock()
	l.history = history
	l.histMu.Unlock()

	l.offers = map[string]map[string][]json.RawMessage{}
	for g := range groups {
		l.offers[g] = l.gw.LoadGroupData(ctx, g).Available
	}

	metrics.ActiveLoans.Set(float64(l.active.Size()))
	l.log.WithFields(logrus.Fields{
		"active":  l.active.Size(),
		"history": len(history),
		"groups":  len(groups),
		"moved":   moved,
		"rekeyed": rekeyed,
	}).Info("ledger loaded")

	if moved > 0 {
		l.log.WithField("moved", moved).Warn("closed loans found in entries; moved to history")
	}
	if moved > 0 || rekeyed > 0 {
		l.flush(ctx, sortedKeys(groups), nil)
	}
}

// CreateLoan は貸出を登録する。dueTimestamp が 0 なら期限なし
func (l *Ledger) CreateLoan(ctx context.Context, groupID, lenderID, borrowerID string, item loan.Item, dueTimestamp int64) (rec loan.Record, err error) {
	defer func() { observe("create", err) }()

	groupID, lenderID, borrowerID = strings.TrimSpace(groupID), strings.TrimSpace(lenderID), strings.TrimSpace(borrowerID)
	if err := validateParties(groupID, lenderID, borrowerID); err != nil {
		return loan.Record{}, err
	}
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return loan.Record{}, ErrInvalid("item_name is required")
	}
	if item.Quantity <= 0 {
		return loan.Record{}, ErrInvalid("quantity must be > 0")
	}
	if item.Collateral.Value < 0 {
		return loan.Record{}, ErrInvalid("collateral value must be >= 0")
	}

	now := l.clock.Now()
	nowMs := now.UnixMilli()
	if dueTimestamp < 0 || (dueTimestamp > 0 && dueTimestamp < nowMs) {
		return loan.Record{}, ErrInvalid("due_timestamp must not be before the lend time")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec = loan.Record{
		ID:            l.id.NewULID(now),
		GroupID:       groupID,
		LenderID:      lenderID,
		BorrowerID:    borrowerID,
		ItemID:        item.ID,
		ItemName:      name,
		Quantity:      item.Quantity,
		Collateral:    item.Collateral,
		LendTimestamp: nowMs,
		DueTimestamp:  dueTimestamp,
	}
	l.active.Store(rec.ID, rec)
	l.idx().add(rec)
	l.flush(ctx, []string{groupID}, nil)

	l.recordLog(rec).Info("loan created")
	return rec, nil
}

// ConfirmReturn は当事者の一方の返却確認を記録し、確認後の貸出を返す。
// 両者が揃ったら history へ移して completed=true。同じ当事者の再確認は何もしない。
func (l *Ledger) ConfirmReturn(ctx context.Context, groupID, lenderID, borrowerID, itemName string, party loan.Party) (rec loan.Record, completed bool, err error) {
	defer func() { observe("confirm_return", err) }()

	if !party.Valid() {
		return loan.Record{}, false, ErrInvalid("party must be lender or borrower")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err = l.findActive(groupID, lenderID, borrowerID, itemName)
	if err != nil {
		return loan.Record{}, false, err
	}

	next, changed, completed := confirm(rec, party, l.clock.Now().UnixMilli())
	if !changed {
		return rec, false, nil
	}
	if completed {
		l.archive(next)
		l.recordLog(next).Info("loan returned")
	} else {
		l.active.Store(next.ID, next)
		l.recordLog(next).WithField("party", party).Info("return confirmed by one party")
	}
	l.flush(ctx, []string{next.GroupID}, nil)
	return next, completed, nil
}

// MarkDefaulted は確認状況に関係なく貸出を貸し倒れとしてクローズする（ReturnTimestamp は 0 のまま）
func (l *Ledger) MarkDefaulted(ctx context.Context, recordID string) (rec loan.Record, err error) {
	defer func() { observe("default", err) }()
	return l.closeByID(ctx, recordID, loan.CloseDefaulted)
}

// CancelLoan は登録の取り消し。扱いは MarkDefaulted と同じで理由だけ異なる
func (l *Ledger) CancelLoan(ctx context.Context, recordID string) (rec loan.Record, err error) {
	defer func() { observe("cancel", err) }()
	return l.closeByID(ctx, recordID, loan.CloseCancelled)
}

// ExtendDueDate は期限を additionalDays 日延ばす。他のフィールドは変えない
func (l *Ledger) ExtendDueDate(ctx context.Context, groupID, lenderID, borrowerID, itemName string, additionalDays int) (rec loan.Record, err error) {
	defer func() { observe("extend", err) }()

	if additionalDays <= 0 {
		return loan.Record{}, ErrInvalid("additional_days must be > 0")
	}
	if additionalDays > MaxExtendDays {
		return loan.Record{}, ErrInvalid("additional_days is too large")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err = l.findActive(groupID, lenderID, borrowerID, itemName)
	if err != nil {
		return loan.Record{}, err
	}
	if rec.DueTimestamp == 0 {
		return loan.Record{}, ErrInvalidState("loan has no due date")
	}
	rec.DueTimestamp += int64(additionalDays) * loan.DayMillis
	l.active.Store(rec.ID, rec)
	l.flush(ctx, []string{rec.GroupID}, nil)

	l.recordLog(rec).WithField("days", additionalDays).Info("due date extended")
	return rec, nil
}

// DeleteHistoryOlderThan は返却済みで ReturnTimestamp が cutoff より前のものを history から消す。
// 貸し倒れ・取り消し（ReturnTimestamp == 0）は対象外。
func (l *Ledger) DeleteHistoryOlderThan(ctx context.Context, cutoff int64) (n int, err error) {
	defer func() { observe("delete_history", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.histMu.Lock()
	kept := make([]loan.Record, 0, len(l.history))
	for _, r := range l.history {
		if r.ReturnTimestamp > 0 && r.ReturnTimestamp < cutoff {
			n++
			continue
		}
		kept = append(kept, r)
	}
	l.history = kept
	l.histMu.Unlock()

	if n > 0 {
		l.flush(ctx, nil, nil)
		metrics.HistoryPurged.Add(float64(n))
		l.log.WithFields(logrus.Fields{"removed": n, "cutoff": cutoff}).Info("history purged")
	}
	return n, nil
}

// DeleteGroup はグループ解散時に、そのグループの貸出（active / history とも）と recorder ドキュメントを消す
func (l *Ledger) DeleteGroup(ctx context.Context, groupID string) (n int, err error) {
	defer func() { observe("delete_group", err) }()

	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return 0, ErrInvalid("group_id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ix := l.idx()
	l.active.Range(func(id string, r loan.Record) bool {
		if r.GroupID == groupID {
			l.active.Delete(id)
			ix.remove(r)
			n++
		}
		return true
	})

	l.histMu.Lock()
	kept := make([]loan.Record, 0, len(l.history))
	for _, r := range l.history {
		if r.GroupID == groupID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	l.history = kept
	l.histMu.Unlock()

	delete(l.offers, groupID)
	l.flush(ctx, nil, []string{groupID})
	l.log.WithFields(logrus.Fields{"group_id": groupID, "removed": n}).Info("group deleted")
	return n, nil
}

// Reset は全データを消す（entries / history / 既知のグループの recorder）
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	groups := map[string]struct{}{}
	for g := range l.offers {
		groups[g] = struct{}{}
	}
	l.active.Range(func(_ string, r loan.Record) bool {
		groups[r.GroupID] = struct{}{}
		return true
	})
	l.histMu.Lock()
	for _, r := range l.history {
		groups[r.GroupID] = struct{}{}
	}
	l.history = nil
	l.histMu.Unlock()

	l.active.Clear()
	l.index.Store(newIndex())
	l.offers = map[string]map[string][]json.RawMessage{}

	l.gw.ClearEntries(ctx)
	l.gw.ClearHistory(ctx)
	for _, g := range sortedKeys(groups) {
		l.gw.DeleteGroupData(ctx, g)
	}
	metrics.ActiveLoans.Set(0)
	l.log.WithField("groups", len(groups)).Warn("ledger reset")
}

// ---------- queries ----------

func (l *Ledger) GetActiveByLender(groupID, lenderID string) []loan.Record {
	return l.resolve(l.idx().byLender(groupID, lenderID))
}

func (l *Ledger) GetActiveByBorrower(groupID, borrowerID string) []loan.Record {
	return l.resolve(l.idx().byBorrower(groupID, borrowerID))
}

// GetActiveAll は貸出時刻順
func (l *Ledger) GetActiveAll() []loan.Record {
	out := make([]loan.Record, 0, l.active.Size())
	l.active.Range(func(_ string, r loan.Record) bool {
		out = append(out, r)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return loan.Less(out[i], out[j]) })
	return out
}

// GetOverdue は期限切れの active を期限の古い順に返す
func (l *Ledger) GetOverdue() []loan.Record {
	now := l.clock.Now().UnixMilli()
	var out []loan.Record
	l.active.Range(func(_ string, r loan.Record) bool {
		if r.Overdue(now) {
			out = append(out, r)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueTimestamp != out[j].DueTimestamp {
			return out[i].DueTimestamp < out[j].DueTimestamp
		}
		return loan.Less(out[i], out[j])
	})
	return out
}

// GetHistory はクローズされた順
func (l *Ledger) GetHistory() []loan.Record {
	l.histMu.RLock()
	defer l.histMu.RUnlock()
	out := make([]loan.Record, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) Get(recordID string) (loan.Record, error) {
	if r, ok := l.active.Load(recordID); ok {
		return r, nil
	}
	if r, ok := l.closed(recordID); ok {
		return r, nil
	}
	return loan.Record{}, ErrNotFound("loan not found")
}

// ---------- internals（書き込みを伴うものは mu を保持して呼ぶこと） ----------

func (l *Ledger) idx() *Index { return l.index.Load() }

func (l *Ledger) findActive(groupID, lenderID, borrowerID, itemName string) (loan.Record, error) {
	groupID, lenderID, borrowerID = strings.TrimSpace(groupID), strings.TrimSpace(lenderID), strings.TrimSpace(borrowerID)
	if err := validateParties(groupID, lenderID, borrowerID); err != nil {
		return loan.Record{}, err
	}
	if strings.TrimSpace(itemName) == "" {
		return loan.Record{}, ErrInvalid("item_name is required")
	}
	id, ok := l.idx().first(groupID, lenderID, borrowerID, itemName)
	if !ok {
		return loan.Record{}, ErrNotFound("active loan not found")
	}
	rec, ok := l.active.Load(id)
	if !ok {
		return loan.Record{}, ErrNotFound("active loan not found")
	}
	return rec, nil
}

func (l *Ledger) closeByID(ctx context.Context, recordID string, reason loan.CloseReason) (loan.Record, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return loan.Record{}, ErrInvalid("loan id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.active.Load(recordID)
	if !ok {
		if _, closed := l.closed(recordID); closed {
			return loan.Record{}, ErrInvalidState("loan is already closed")
		}
		return loan.Record{}, ErrNotFound("active loan not found")
	}
	rec.ReturnTimestamp = 0
	rec.CloseReason = reason
	l.archive(rec)
	l.flush(ctx, []string{rec.GroupID}, nil)

	l.recordLog(rec).WithField("reason", reason).Info("loan closed")
	return rec, nil
}

// archive は active とインデックスから外して history の末尾に積む
func (l *Ledger) archive(rec loan.Record) {
	l.active.Delete(rec.ID)
	l.idx().remove(rec)
	l.histMu.Lock()
	l.history = append(l.history, rec)
	l.histMu.Unlock()
}

func (l *Ledger) closed(recordID string) (loan.Record, bool) {
	l.histMu.RLock()
	defer l.histMu.RUnlock()
	for _, r := range l.history {
		if r.ID == recordID {
			return r, true
		}
	}
	return loan.Record{}, false
}

func (l *Ledger) resolve(refs []ref) []loan.Record {
	out := make([]loan.Record, 0, len(refs))
	for _, rf := range refs {
		// 参照系はロックなしなので、直前にアーカイブされたものは飛ばす
		if r, ok := l.active.Load(rf.id); ok {
			out = append(out, r)
		}
	}
	return out
}

// flush は現在の状態をスナップショットとして書き出す。groups は recorder を書き直すグループ
func (l *Ledger) flush(ctx context.Context, groups []string, drop []string) {
	entries := make(map[string]loan.Record, l.active.Size())
	l.active.Range(func(id string, r loan.Record) bool {
		entries[id] = r
		return true
	})

	snap := loan.Snapshot{
		Entries:    entries,
		History:    l.GetHistory(),
		Groups:     make(map[string]loan.GroupData, len(groups)),
		DropGroups: drop,
	}
	for _, g := range groups {
		snap.Groups[g] = l.groupData(ctx, g)
	}
	l.gw.SaveSnapshot(ctx, snap)
	metrics.ActiveLoans.Set(float64(len(entries)))
}

func (l *Ledger) groupData(ctx context.Context, groupID string) loan.GroupData {
	gd := loan.NewGroupData()
	lent, borrowed := l.idx().groupBuckets(groupID)
	for party, refs := range lent {
		gd.Lent[party] = l.resolve(refs)
	}
	for party, refs := range borrowed {
		gd.Borrowed[party] = l.resolve(refs)
	}

	offers, ok := l.offers[groupID]
	if !ok {
		// 初めて触るグループは既存の available を消さないよう先に読んでおく
		offers = l.gw.LoadGroupData(ctx, groupID).Available
		l.offers[groupID] = offers
	}
	if offers != nil {
		gd.Available = offers
	}
	return gd
}

func (l *Ledger) recordLog(r loan.Record) logrus.FieldLogger {
	return l.log.WithFields(logrus.Fields{
		"loan_id":  r.ID,
		"group_id": r.GroupID,
		"lender":   r.LenderID,
		"borrower": r.BorrowerID,
		"item":     r.ItemName,
	})
}

// rekey は entries をレコード自身の ID で引けるようにする。
// キーと ID が食い違うとインデックス（ID で張る）から見えなくなるため。
func rekey(log logrus.FieldLogger, entries map[string]loan.Record) (map[string]loan.Record, int) {
	out := make(map[string]loan.Record, len(entries))
	changed := 0
	for key, r := range entries {
		if r.ID == "" {
			r.ID = key
		}
		if r.ID != key {
			log.WithFields(logrus.Fields{"key": key, "loan_id": r.ID}).Warn("entry key does not match loan id; re-keyed")
			changed++
		}
		if prev, dup := out[r.ID]; dup {
			log.WithField("loan_id", r.ID).Warn("duplicate loan id in entries; keeping the later lend")
			if loan.Less(r, prev) {
				continue
			}
		}
		out[r.ID] = r
	}
	return out, changed
}

func validateParties(groupID, lenderID, borrowerID string) error {
	if groupID == "" {
		return ErrInvalid("group_id is required")
	}
	if lenderID == "" {
		return ErrInvalid("lender_id is required")
	}
	if borrowerID == "" {
		return ErrInvalid("borrower_id is required")
	}
	if lenderID == borrowerID {
		return ErrInvalid("lender and borrower must differ")
	}
	return nil
}

func observe(op string, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = strings.ToLower(string(CodeOf(err)))
	}
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
