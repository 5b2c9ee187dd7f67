// Package persistence は台帳の状態をキー・バリューストアへ読み書きする。
// 業務ルールは持たない。保存は毎回ドキュメント全体の上書き。
package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"lendledger/internal/loan_mgmt/loan"
	"lendledger/internal/platform/kv"
	"lendledger/internal/platform/metrics"
)

const (
	KeyEntries     = "entries"
	KeyHistory     = "history"
	groupKeyPrefix = "recorder."

	docEntries = "entries"
	docHistory = "history"
	docGroup   = "recorder"
)

func GroupKey(groupID string) string { return groupKeyPrefix + groupID }

type Gateway struct {
	store kv.Store
	log   logrus.FieldLogger
}

func NewGateway(store kv.Store, log logrus.FieldLogger) *Gateway {
	return &Gateway{store: store, log: log.WithField("component", "persistence")}
}

// ---------- entries ----------

func (g *Gateway) SaveEntries(ctx context.Context, entries map[string]loan.Record) {
	g.save(ctx, KeyEntries, docEntries, normalizeEntries(entries))
}

func (g *Gateway) LoadEntries(ctx context.Context) map[string]loan.Record {
	var entries map[string]loan.Record
	g.load(ctx, KeyEntries, docEntries, &entries)
	entries = normalizeEntries(entries)
	for id, r := range entries {
		if r.ID == "" {
			r.ID = id
			entries[id] = r
		}
	}
	return entries
}

func (g *Gateway) ClearEntries(ctx context.Context) {
	g.delete(ctx, KeyEntries, docEntries)
}

// ---------- history ----------

func (g *Gateway) SaveHistory(ctx context.Context, history []loan.Record) {
	g.save(ctx, KeyHistory, docHistory, normalizeHistory(history))
}

func (g *Gateway) LoadHistory(ctx context.Context) []loan.Record {
	var history []loan.Record
	g.load(ctx, KeyHistory, docHistory, &history)
	return normalizeHistory(history)
}

func (g *Gateway) ClearHistory(ctx context.Context) {
	g.delete(ctx, KeyHistory, docHistory)
}

// ---------- group data ----------

func (g *Gateway) SaveGroupData(ctx context.Context, groupID string, lent, borrowed map[string][]loan.Record, available map[string][]json.RawMessage) {
	gd := normalizeGroup(loan.GroupData{Lent: lent, Borrowed: borrowed, Available: available})
	g.save(ctx, GroupKey(groupID), docGroup, gd)
}

func (g *Gateway) LoadGroupData(ctx context.Context, groupID string) loan.GroupData {
	var gd loan.GroupData
	g.load(ctx, GroupKey(groupID), docGroup, &gd)
	return normalizeGroup(gd)
}

func (g *Gateway) DeleteGroupData(ctx context.Context, groupID string) {
	g.delete(ctx, GroupKey(groupID), docGroup)
}

// SaveSnapshot は変更されたドキュメントを1バッチで書く。
// 途中で失敗しても一部だけ書かれることはない（kv.Store.Apply の保証）。
func (g *Gateway) SaveSnapshot(ctx context.Context, snap loan.Snapshot) {
	b := kv.NewBatch()

	entries, err := json.Marshal(normalizeEntries(snap.Entries))
	if err != nil {
		g.fail(metrics.OpSave, docEntries, KeyEntries, err)
		return
	}
	b.Set(KeyEntries, entries)

	history, err := json.Marshal(normalizeHistory(snap.History))
	if err != nil {
		g.fail(metrics.OpSave, docHistory, KeyHistory, err)
		return
	}
	b.Set(KeyHistory, history)

	for groupID, gd := range snap.Groups {
		buf, err := json.Marshal(normalizeGroup(gd))
		if err != nil {
			g.fail(metrics.OpSave, docGroup, GroupKey(groupID), err)
			return
		}
		b.Set(GroupKey(groupID), buf)
	}
	for _, groupID := range snap.DropGroups {
		b.Delete(GroupKey(groupID))
	}

	if err := g.store.Apply(ctx, b); err != nil {
		g.fail(metrics.OpSave, "snapshot", "", err)
	}
}

// ---------- helpers ----------

func (g *Gateway) save(ctx context.Context, key, doc string, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		g.fail(metrics.OpSave, doc, key, err)
		return
	}
	if err := g.store.Set(ctx, key, buf); err != nil {
		g.fail(metrics.OpSave, doc, key, err)
	}
}

// load は失敗時に v をゼロ値のまま返す（fail-open）
func (g *Gateway) load(ctx context.Context, key, doc string, v any) {
	buf, err := g.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		g.fail(metrics.OpLoad, doc, key, err)
		return
	}
	if err := json.Unmarshal(buf, v); err != nil {
		g.fail(metrics.OpLoad, doc, key, err)
		// 途中までデコードされた値は使わない
		switch p := v.(type) {
		case *map[string]loan.Record:
			*p = nil
		case *[]loan.Record:
			*p = nil
		case *loan.GroupData:
			*p = loan.GroupData{}
		}
	}
}

func (g *Gateway) delete(ctx context.Context, key, doc string) {
	if err := g.store.Delete(ctx, key); err != nil {
		g.fail(metrics.OpDelete, doc, key, err)
	}
}

func (g *Gateway) fail(op, doc, key string, err error) {
	metrics.PersistenceFailures.WithLabelValues(op, doc).Inc()
	g.log.WithFields(logrus.Fields{
		"op":       op,
		"document": doc,
		"key":      key,
	}).WithError(err).Error("persistence failure")
}

func normalizeEntries(m map[string]loan.Record) map[string]loan.Record {
	if m == nil {
		return map[string]loan.Record{}
	}
	return m
}

func normalizeHistory(h []loan.Record) []loan.Record {
	if h == nil {
		return []loan.Record{}
	}
	return h
}

func normalizeGroup(gd loan.GroupData) loan.GroupData {
	if gd.Lent == nil {
		gd.Lent = map[string][]loan.Record{}
	}
	if gd.Borrowed == nil {
		gd.Borrowed = map[string][]loan.Record{}
	}
	if gd.Available == nil {
		gd.Available = map[string][]json.RawMessage{}
	}
	return gd
}
