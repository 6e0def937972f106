package journal

import (
	"context"

	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

// Journal persists committed trades and periodic ledger snapshots for later
// analysis. The in-memory ledger stays authoritative; a journal failure never
// undoes a commit.
type Journal interface {
	Record(ctx context.Context, trade portfolio.TradeRecord) error
	RecordSnapshot(ctx context.Context, snapshot *portfolio.Snapshot) error
	Close() error
}

// NoopJournal discards everything
type NoopJournal struct{}

var (
	_ Journal = NoopJournal{}
	_ Journal = (*SQLiteJournal)(nil)
)

func (NoopJournal) Record(context.Context, portfolio.TradeRecord) error { return nil }

func (NoopJournal) RecordSnapshot(context.Context, *portfolio.Snapshot) error { return nil }

func (NoopJournal) Close() error { return nil }
