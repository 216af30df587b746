// Package repository holds the SQL for instruments, the price log and the
// three bar tables. Every method runs in its own executor session, so one
// call holds at most one connection lease and returns it before returning.
package repository

import (
	"context"
	"fmt"
	"time"

	"marketcache/internal/market"
	"marketcache/internal/store/model"
	"marketcache/internal/store/sqlexec"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

type Repository struct {
	exec *sqlexec.Executor
}

func New(exec *sqlexec.Executor) *Repository {
	return &Repository{exec: exec}
}

// Migrate creates or updates the five tables with their unique keys and
// cascading foreign keys.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Read(ctx, func(db *gorm.DB) error {
			return db.AutoMigrate(model.All()...)
		})
	})
}

// UpsertInstrument inserts the instrument or refreshes its name.
func (r *Repository) UpsertInstrument(ctx context.Context, inst market.Instrument) error {
	row := model.InstrumentModel{Symbol: inst.Symbol, Name: inst.Name}
	return r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Write(ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{"name"}),
			}).Create(&row).Error
		})
	})
}

func (r *Repository) Instruments(ctx context.Context) ([]market.Instrument, error) {
	var rows []model.InstrumentModel
	err := r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Read(ctx, func(db *gorm.DB) error {
			return db.Order("symbol").Find(&rows).Error
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.Instrument, 0, len(rows))
	for _, row := range rows {
		out = append(out, market.Instrument{Symbol: row.Symbol, Name: row.Name})
	}
	return out, nil
}

// DeleteInstrument removes an instrument; its prices and bars go with it.
func (r *Repository) DeleteInstrument(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Write(ctx, func(tx *gorm.DB) error {
			res := tx.Where("symbol = ?", symbol).Delete(&model.InstrumentModel{})
			n = res.RowsAffected
			return res.Error
		})
	})
	return n, err
}

// InsertPrice appends one observation; an unknown symbol is rejected by
// the foreign key.
func (r *Repository) InsertPrice(ctx context.Context, p market.PricePoint) error {
	row := model.PriceModel{
		Symbol:    p.Symbol,
		Price:     p.Price,
		Change24h: p.Change24h,
		Timestamp: p.Timestamp.UTC(),
	}
	return r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Write(ctx, func(tx *gorm.DB) error {
			return tx.Omit(clause.Associations).Create(&row).Error
		})
	})
}

// UpsertBar writes one bar; an existing (symbol, date) row gets the new
// OHLCV values.
func (r *Repository) UpsertBar(ctx context.Context, b market.HistoryBar) error {
	table, ok := model.BarTable(b.Granularity)
	if !ok {
		return fmt.Errorf("%w: %q", market.ErrUnknownGranularity, b.Granularity)
	}
	row := model.BarRow{
		Symbol: b.Symbol,
		Date:   b.Bucket.UTC(),
		BarValues: model.BarValues{
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			QuoteVolume: b.QuoteVolume,
		},
	}
	return r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Write(ctx, func(tx *gorm.DB) error {
			return tx.Table(table).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "symbol"}, {Name: "date"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"open_price", "high_price", "low_price", "close_price", "volume", "quote_volume",
				}),
			}).Create(&row).Error
		})
	})
}

type quoteRow struct {
	Name      string              `gorm:"column:name"`
	Symbol    string              `gorm:"column:symbol"`
	Price     decimal.Decimal     `gorm:"column:price"`
	Change24h decimal.NullDecimal `gorm:"column:change_24h"`
	Timestamp time.Time           `gorm:"column:timestamp"`
}

func (q quoteRow) quote() market.Quote {
	return market.Quote{
		Name: q.Name,
		PricePoint: market.PricePoint{
			Symbol:    q.Symbol,
			Price:     q.Price,
			Change24h: q.Change24h,
			Timestamp: q.Timestamp.UTC(),
		},
	}
}

// 最新价格：同一品种取时间戳最大的一条，时间戳相同取 id 最大。
const latestPricesSQL = `
SELECT ci.name AS name, cp.symbol AS symbol, cp.price AS price,
       cp.change_24h AS change_24h, cp.timestamp AS timestamp
FROM current_prices cp
JOIN crypto_info ci ON ci.symbol = cp.symbol
WHERE NOT EXISTS (
    SELECT 1 FROM current_prices newer
    WHERE newer.symbol = cp.symbol
      AND (newer.timestamp > cp.timestamp
           OR (newer.timestamp = cp.timestamp AND newer.id > cp.id))
)`

// LatestPrices returns the newest observation of every instrument, most
// recent first.
func (r *Repository) LatestPrices(ctx context.Context) ([]market.Quote, error) {
	var rows []quoteRow
	err := r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Query(ctx, &rows, latestPricesSQL+" ORDER BY cp.timestamp DESC, cp.symbol")
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.Quote, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.quote())
	}
	return out, nil
}

// LatestPrice returns the newest observation of one instrument.
func (r *Repository) LatestPrice(ctx context.Context, symbol string) (market.Quote, bool, error) {
	var rows []quoteRow
	err := r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Query(ctx, &rows, latestPricesSQL+" AND cp.symbol = ? LIMIT 1", symbol)
	})
	if err != nil || len(rows) == 0 {
		return market.Quote{}, false, err
	}
	return rows[0].quote(), true, nil
}

// History returns up to limit of the newest bars, oldest first.
func (r *Repository) History(ctx context.Context, symbol string, g market.Granularity, limit int) ([]market.HistoryBar, error) {
	table, ok := model.BarTable(g)
	if !ok {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownGranularity, g)
	}
	limit = ClampLimit(limit)
	var rows []model.BarRow
	err := r.exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Read(ctx, func(db *gorm.DB) error {
			return db.Table(table).
				Where("symbol = ?", symbol).
				Order("date DESC").
				Limit(limit).
				Find(&rows).Error
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.HistoryBar, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = market.HistoryBar{
			Symbol:      row.Symbol,
			Granularity: g,
			Bucket:      row.Date.UTC(),
			Open:        row.Open,
			High:        row.High,
			Low:         row.Low,
			Close:       row.Close,
			Volume:      row.Volume,
			QuoteVolume: row.QuoteVolume,
		}
	}
	return out, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
