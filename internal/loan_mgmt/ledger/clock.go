package ledger

import (
	"time"

	ulid "github.com/oklog/ulid/v2"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// IDGen は貸出IDを払い出す。同一ミリ秒内でも単調増加すること
type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	// DefaultEntropy はプロセス共有・ロック付きの単調エントロピー
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
