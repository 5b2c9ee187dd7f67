package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"lendledger/internal/loan_mgmt/loan"
)

type Encoding string

const (
	// Excel でそのまま開けるよう BOM 付き
	EncodingUTF8 Encoding = "utf8"
	// Windows の「ANSI（CP932）」相当。表せない文字は置換する
	EncodingSJIS Encoding = "sjis"
)

var header = []string{
	"id", "group_id", "lender_id", "borrower_id",
	"item_id", "item_name", "quantity",
	"collateral_value", "collateral_item",
	"lent_at", "due_at", "returned_at",
	"lender_confirmed", "borrower_confirmed", "close_reason",
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "sjis", "shift_jis", "cp932":
		return EncodingSJIS, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

func (e Encoding) ContentType() string {
	if e == EncodingSJIS {
		return "text/csv; charset=Shift_JIS"
	}
	return "text/csv; charset=utf-8"
}

func encoderFor(e Encoding) (*encoding.Encoder, error) {
	switch e {
	case EncodingUTF8:
		return unicode.UTF8BOM.NewEncoder(), nil
	case EncodingSJIS:
		return encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", e)
}

// WriteHistory はクローズ済みの貸出を CSV で書き出す（ヘッダ行あり）
func WriteHistory(out io.Writer, recs []loan.Record, enc Encoding) error {
	e, err := encoderFor(enc)
	if err != nil {
		return err
	}
	tw := transform.NewWriter(out, e)
	w := csv.NewWriter(tw)

	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range recs {
		if err := w.Write(row(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return tw.Close()
}

func row(r loan.Record) []string {
	return []string{
		r.ID, r.GroupID, r.LenderID, r.BorrowerID,
		strconv.Itoa(r.ItemID), r.ItemName, strconv.Itoa(r.Quantity),
		strconv.FormatInt(r.Collateral.Value, 10), r.Collateral.ItemName,
		millis(r.LendTimestamp), millis(r.DueTimestamp), millis(r.ReturnTimestamp),
		strconv.FormatBool(r.LenderConfirmedReturn), strconv.FormatBool(r.BorrowerConfirmedReturn),
		string(r.CloseReason),
	}
}

// 0 は「なし」なので空欄
func millis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
