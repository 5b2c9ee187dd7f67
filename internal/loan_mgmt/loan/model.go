package loan

import (
	"encoding/json"
	"strings"
)

const DayMillis int64 = 86_400_000

type Party string

const (
	PartyLender   Party = "lender"
	PartyBorrower Party = "borrower"
)

func (p Party) Valid() bool {
	return p == PartyLender || p == PartyBorrower
}

// クローズ理由。active の間は空
type CloseReason string

const (
	CloseReturned  CloseReason = "returned"
	CloseDefaulted CloseReason = "defaulted"
	CloseCancelled CloseReason = "cancelled"
)

// Collateral は担保。金額と品目名のどちらか、または両方。無担保ならゼロ値
type Collateral struct {
	Value    int64  `json:"value,omitempty"`
	ItemName string `json:"itemName,omitempty"`
}

func (c Collateral) IsZero() bool {
	return c.Value == 0 && c.ItemName == ""
}

// Item は貸し出すもの
type Item struct {
	ID         int        `json:"itemId"`
	Name       string     `json:"itemName"`
	Quantity   int        `json:"quantity"`
	Collateral Collateral `json:"collateral"`
}

// Record は貸出1件。時刻はすべて epoch ミリ秒
type Record struct {
	ID                      string      `json:"id"`
	GroupID                 string      `json:"groupId"`
	LenderID                string      `json:"lenderId"`
	BorrowerID              string      `json:"borrowerId"`
	ItemID                  int         `json:"itemId"`
	ItemName                string      `json:"itemName"`
	Quantity                int         `json:"quantity"`
	Collateral              Collateral  `json:"collateral"`
	LendTimestamp           int64       `json:"lendTimestamp"`
	DueTimestamp            int64       `json:"dueTimestamp"`
	ReturnTimestamp         int64       `json:"returnTimestamp"`
	LenderConfirmedReturn   bool        `json:"lenderConfirmedReturn"`
	BorrowerConfirmedReturn bool        `json:"borrowerConfirmedReturn"`
	CloseReason             CloseReason `json:"closeReason,omitempty"`
}

// Overdue: 期限ありで、期限を過ぎているもの
func (r Record) Overdue(nowMillis int64) bool {
	return r.DueTimestamp > 0 && r.DueTimestamp < nowMillis
}

func (r Record) Returned() bool {
	return r.ReturnTimestamp > 0
}

// ItemKey は複合キー用に品目名を正規化する（前後空白除去・小文字化）
func ItemKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r Record) MatchesItem(name string) bool {
	return ItemKey(r.ItemName) == ItemKey(name)
}

// Less は複合キーが重複したときの優先順（貸出時刻が早い順、同時刻なら ID 順）
func Less(a, b Record) bool {
	if a.LendTimestamp != b.LendTimestamp {
		return a.LendTimestamp < b.LendTimestamp
	}
	return a.ID < b.ID
}

// GroupData は recorder.<groupId> ドキュメントの中身。
// Available（出品情報）は台帳では解釈せずそのまま保存し直す。
type GroupData struct {
	Lent      map[string][]Record          `json:"lent"`
	Borrowed  map[string][]Record          `json:"borrowed"`
	Available map[string][]json.RawMessage `json:"available"`
}

func NewGroupData() GroupData {
	return GroupData{
		Lent:      map[string][]Record{},
		Borrowed:  map[string][]Record{},
		Available: map[string][]json.RawMessage{},
	}
}

// Snapshot は1回の変更で書き出すドキュメント一式
type Snapshot struct {
	Entries map[string]Record
	History []Record
	// 変更のあったグループのみ
	Groups map[string]GroupData
	// recorder.<groupId> を削除するグループ
	DropGroups []string
}
