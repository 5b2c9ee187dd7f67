package ledger

import "lendledger/internal/loan_mgmt/loan"

// ConfirmState は返却確認の状態。Active → PartiallyConfirmed → Completed の一方向のみ
type ConfirmState int

const (
	StateActive ConfirmState = iota
	StatePartiallyConfirmed
	StateCompleted
)

func (s ConfirmState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePartiallyConfirmed:
		return "partially_confirmed"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

func StateOf(r loan.Record) ConfirmState {
	switch {
	case r.LenderConfirmedReturn && r.BorrowerConfirmedReturn:
		return StateCompleted
	case r.LenderConfirmedReturn || r.BorrowerConfirmedReturn:
		return StatePartiallyConfirmed
	default:
		return StateActive
	}
}

// confirm は party の確認フラグを立てた次の状態を返す。
// 同じ当事者の再確認は changed=false（状態変化なし）。
// 両者の確認が揃った時点で ReturnTimestamp を now にして completed=true。
// フラグは false→true にしか動かない。
func confirm(r loan.Record, party loan.Party, nowMillis int64) (next loan.Record, changed, completed bool) {
	next = r
	switch party {
	case loan.PartyLender:
		if next.LenderConfirmedReturn {
			return r, false, false
		}
		next.LenderConfirmedReturn = true
	case loan.PartyBorrower:
		if next.BorrowerConfirmedReturn {
			return r, false, false
		}
		next.BorrowerConfirmedReturn = true
	default:
		return r, false, false
	}

	if StateOf(next) == StateCompleted {
		next.ReturnTimestamp = nowMillis
		next.CloseReason = loan.CloseReturned
		return next, true, true
	}
	return next, true, false
}
