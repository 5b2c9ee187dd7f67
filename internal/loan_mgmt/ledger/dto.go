package ledger

import (
	"lendledger/internal/loan_mgmt/loan"
)

// 貸出登録リクエスト
type CreateLoanRequest struct {
	// 未指定なら呼び出し元
	LenderID   string `json:"lender_id,omitempty"`
	BorrowerID string `json:"borrower_id" binding:"required"`
	ItemID     int    `json:"item_id"`
	ItemName   string `json:"item_name" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
	// 担保（どちらも省略可）
	CollateralValue int64  `json:"collateral_value,omitempty"`
	CollateralItem  string `json:"collateral_item,omitempty"`
	// epoch ミリ秒。due_in_days と両方来たら due_timestamp を優先。どちらもなければ期限なし
	DueTimestamp *int64 `json:"due_timestamp,omitempty"`
	DueInDays    *int   `json:"due_in_days,omitempty"`
}

// (group, lender, borrower, item) で貸出を特定するリクエスト
type LoanKeyRequest struct {
	LenderID   string `json:"lender_id" binding:"required"`
	BorrowerID string `json:"borrower_id" binding:"required"`
	ItemName   string `json:"item_name" binding:"required"`
}

type ConfirmReturnRequest struct {
	LoanKeyRequest
	// admin のみ指定可。通常は呼び出し元から判定する
	Party *string `json:"party,omitempty"`
}

type ConfirmReturnResponse struct {
	Completed bool          `json:"completed"`
	Loan      *LoanResponse `json:"loan,omitempty"`
}

type ExtendRequest struct {
	LoanKeyRequest
	AdditionalDays int `json:"additional_days" binding:"required"`
}

// 貸出レスポンス
type LoanResponse struct {
	ID                string `json:"id"`
	GroupID           string `json:"group_id"`
	LenderID          string `json:"lender_id"`
	BorrowerID        string `json:"borrower_id"`
	ItemID            int    `json:"item_id"`
	ItemName          string `json:"item_name"`
	Quantity          int    `json:"quantity"`
	CollateralValue   int64  `json:"collateral_value,omitempty"`
	CollateralItem    string `json:"collateral_item,omitempty"`
	LendTimestamp     int64  `json:"lend_timestamp"`
	DueTimestamp      int64  `json:"due_timestamp"`
	ReturnTimestamp   int64  `json:"return_timestamp"`
	LenderConfirmed   bool   `json:"lender_confirmed_return"`
	BorrowerConfirmed bool   `json:"borrower_confirmed_return"`
	State             string `json:"state"`
	CloseReason       string `json:"close_reason,omitempty"`
}

type ListResponse struct {
	Items []LoanResponse `json:"items"`
	Total int            `json:"total"`
}

type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

func toResponse(r loan.Record) LoanResponse {
	state := StateOf(r).String()
	if r.CloseReason != "" {
		state = string(r.CloseReason)
	}
	return LoanResponse{
		ID:                r.ID,
		GroupID:           r.GroupID,
		LenderID:          r.LenderID,
		BorrowerID:        r.BorrowerID,
		ItemID:            r.ItemID,
		ItemName:          r.ItemName,
		Quantity:          r.Quantity,
		CollateralValue:   r.Collateral.Value,
		CollateralItem:    r.Collateral.ItemName,
		LendTimestamp:     r.LendTimestamp,
		DueTimestamp:      r.DueTimestamp,
		ReturnTimestamp:   r.ReturnTimestamp,
		LenderConfirmed:   r.LenderConfirmedReturn,
		BorrowerConfirmed: r.BorrowerConfirmedReturn,
		State:             state,
		CloseReason:       string(r.CloseReason),
	}
}

// limit/offset は呼び出し側で正規化済み
func toList(recs []loan.Record, limit, offset int) ListResponse {
	total := len(recs)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	items := make([]LoanResponse, 0, end-offset)
	for _, r := range recs[offset:end] {
		items = append(items, toResponse(r))
	}
	return ListResponse{Items: items, Total: total}
}
