package state

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hybrid-scalper/internal/schema"
)

// PositionRecord is the persisted shape of an open position.
type PositionRecord struct {
	Symbol      string    `gorm:"primaryKey;size:32"`
	Direction   string    `gorm:"size:8"`
	EntryPrice  float64
	Size        float64
	OpenedAt    time.Time
	MarkPrice   float64
	StopPrice   float64
	TargetPrice float64
	UpdatedAt   time.Time
}

// DayRecord is the persisted daily PnL row, one per trading day.
type DayRecord struct {
	Day        string `gorm:"primaryKey;size:10"` // YYYY-MM-DD, UTC
	Realized   float64
	HaltReason string `gorm:"size:128"`
	Running    bool
	UpdatedAt  time.Time
}

// PgRepository persists store mutations write-through to PostgreSQL and
// reads them back on startup.
type PgRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPgRepository migrates the schema and returns a repository.
func NewPgRepository(db *gorm.DB) (*PgRepository, error) {
	if err := db.AutoMigrate(&PositionRecord{}, &DayRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate state tables")
	}
	return &PgRepository{db: db, now: time.Now}, nil
}

// SavePosition upserts the position row.
func (r *PgRepository) SavePosition(p schema.Position) error {
	rec := PositionRecord{
		Symbol:      p.Symbol,
		Direction:   string(p.Direction),
		EntryPrice:  p.EntryPrice,
		Size:        p.Size,
		OpenedAt:    p.OpenedAt,
		MarkPrice:   p.MarkPrice,
		StopPrice:   p.StopPrice,
		TargetPrice: p.TargetPrice,
		UpdatedAt:   r.now(),
	}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// DeletePosition removes the position row.
func (r *PgRepository) DeletePosition(symbol string) error {
	return r.db.Delete(&PositionRecord{}, "symbol = ?", symbol).Error
}

// SaveDay upserts today's PnL row.
func (r *PgRepository) SaveDay(realized float64, haltReason string, running bool) error {
	rec := DayRecord{
		Day:        r.now().UTC().Format("2006-01-02"),
		Realized:   realized,
		HaltReason: haltReason,
		Running:    running,
		UpdatedAt:  r.now(),
	}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// Load reads all open positions and today's realized PnL.
func (r *PgRepository) Load() ([]schema.Position, float64, error) {
	var rows []PositionRecord
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "load positions")
	}
	positions := make([]schema.Position, 0, len(rows))
	for _, rec := range rows {
		positions = append(positions, schema.Position{
			Symbol:      rec.Symbol,
			Direction:   schema.Direction(rec.Direction),
			EntryPrice:  rec.EntryPrice,
			Size:        rec.Size,
			OpenedAt:    rec.OpenedAt,
			MarkPrice:   rec.MarkPrice,
			StopPrice:   rec.StopPrice,
			TargetPrice: rec.TargetPrice,
		})
	}

	var day DayRecord
	err := r.db.First(&day, "day = ?", r.now().UTC().Format("2006-01-02")).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return positions, 0, nil
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "load day record")
	}
	return positions, day.Realized, nil
}
