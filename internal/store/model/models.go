package model

import (
	"time"

	"marketcache/internal/market"

	"github.com/shopspring/decimal"
)

// InstrumentModel is the reference table every price and bar points at.
type InstrumentModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol    string    `gorm:"column:symbol;type:varchar(20);not null;uniqueIndex:uk_crypto_info_symbol"`
	Name      string    `gorm:"column:name;type:varchar(100);not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (InstrumentModel) TableName() string { return "crypto_info" }

// PriceModel is one row of the append-only price log. The latest row per
// symbol is the one with the greatest timestamp, ties broken by id.
type PriceModel struct {
	ID        int64               `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol    string              `gorm:"column:symbol;type:varchar(20);not null;index:idx_current_prices_symbol_ts,priority:1"`
	Price     decimal.Decimal     `gorm:"column:price;type:decimal(30,15);not null"`
	Change24h decimal.NullDecimal `gorm:"column:change_24h;type:decimal(30,15)"`
	Timestamp time.Time           `gorm:"column:timestamp;not null;index:idx_current_prices_symbol_ts,priority:2"`

	Instrument InstrumentModel `gorm:"foreignKey:Symbol;references:Symbol;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (PriceModel) TableName() string { return "current_prices" }

// BarValues are the OHLCV columns shared by the three bar tables.
type BarValues struct {
	Open        decimal.Decimal `gorm:"column:open_price;type:decimal(30,15);not null"`
	High        decimal.Decimal `gorm:"column:high_price;type:decimal(30,15);not null"`
	Low         decimal.Decimal `gorm:"column:low_price;type:decimal(30,15);not null"`
	Close       decimal.Decimal `gorm:"column:close_price;type:decimal(30,15);not null"`
	Volume      decimal.Decimal `gorm:"column:volume;type:decimal(30,15);not null;default:0"`
	QuoteVolume decimal.Decimal `gorm:"column:quote_volume;type:decimal(30,15);not null;default:0"`
}

// BarRow is the table-agnostic shape used for bar reads and writes; the
// table is picked per granularity with BarTable.
type BarRow struct {
	ID     int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol string    `gorm:"column:symbol"`
	Date   time.Time `gorm:"column:date"`
	BarValues
}

// 三张K线表的唯一索引名必须互不相同（SQLite 索引名全库唯一）。

type MinuteBarModel struct {
	ID     int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol string    `gorm:"column:symbol;type:varchar(20);not null;uniqueIndex:uk_minute_data_symbol_date,priority:1"`
	Date   time.Time `gorm:"column:date;not null;uniqueIndex:uk_minute_data_symbol_date,priority:2"`
	BarValues

	Instrument InstrumentModel `gorm:"foreignKey:Symbol;references:Symbol;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (MinuteBarModel) TableName() string { return "minute_data" }

type HourBarModel struct {
	ID     int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol string    `gorm:"column:symbol;type:varchar(20);not null;uniqueIndex:uk_hour_data_symbol_date,priority:1"`
	Date   time.Time `gorm:"column:date;not null;uniqueIndex:uk_hour_data_symbol_date,priority:2"`
	BarValues

	Instrument InstrumentModel `gorm:"foreignKey:Symbol;references:Symbol;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (HourBarModel) TableName() string { return "hour_data" }

type DayBarModel struct {
	ID     int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol string    `gorm:"column:symbol;type:varchar(20);not null;uniqueIndex:uk_day_data_symbol_date,priority:1"`
	Date   time.Time `gorm:"column:date;not null;uniqueIndex:uk_day_data_symbol_date,priority:2"`
	BarValues

	Instrument InstrumentModel `gorm:"foreignKey:Symbol;references:Symbol;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (DayBarModel) TableName() string { return "day_data" }

// All lists the models in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&InstrumentModel{},
		&PriceModel{},
		&MinuteBarModel{},
		&HourBarModel{},
		&DayBarModel{},
	}
}

// BarTable maps a granularity to its partition table.
func BarTable(g market.Granularity) (string, bool) {
	switch g {
	case market.GranularityMinute:
		return MinuteBarModel{}.TableName(), true
	case market.GranularityHour:
		return HourBarModel{}.TableName(), true
	case market.GranularityDay:
		return DayBarModel{}.TableName(), true
	default:
		return "", false
	}
}
