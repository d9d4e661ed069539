// Package journal is the durable audit trail: every recorder event
// lands in one append-only SQLite table through gorm. The trading path
// only ever appends; the list queries serve operator tooling.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"tradecore/internal/audit"
)

type eventModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	EventID        string         `gorm:"column:event_uuid;uniqueIndex"`
	Kind           string         `gorm:"column:kind;index"`
	OrderID        string         `gorm:"column:order_id;index"`
	GatewayOrderID string         `gorm:"column:gateway_order_id;index"`
	Symbol         string         `gorm:"column:symbol"`
	FromStatus     string         `gorm:"column:from_status"`
	ToStatus       string         `gorm:"column:to_status"`
	Detail         string         `gorm:"column:detail"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	AtMillis       int64          `gorm:"column:at;index"`
}

func (eventModel) TableName() string { return "audit_events" }

// Store persists audit events on SQLite through gorm.
type Store struct {
	db *gorm.DB
}

var _ audit.Recorder = (*Store)(nil)

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// The DSN uses modernc.org/sqlite pragma syntax; that driver
	// registers as "sqlite" and works without cgo.
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism while keeping lock
	// contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record implements audit.Recorder.
func (s *Store) Record(ctx context.Context, ev audit.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	var payload datatypes.JSON
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		payload = datatypes.JSON(b)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	model := eventModel{
		EventID:        ev.ID,
		Kind:           string(ev.Kind),
		OrderID:        ev.OrderID,
		GatewayOrderID: ev.GatewayOrderID,
		Symbol:         strings.ToUpper(strings.TrimSpace(ev.Symbol)),
		FromStatus:     ev.From,
		ToStatus:       ev.To,
		Detail:         ev.Detail,
		Payload:        payload,
		AtMillis:       at.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListByOrder returns the trail for one order, oldest first. The id
// matches either side so the ledger id and the venue id both work.
func (s *Store) ListByOrder(ctx context.Context, orderID string, limit int) ([]audit.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var models []eventModel
	if err := s.db.WithContext(ctx).
		Where("order_id = ? OR gateway_order_id = ?", orderID, orderID).
		Order("at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsFromModels(models), nil
}

// ListSince returns events recorded after since, oldest first.
func (s *Store) ListSince(ctx context.Context, since time.Time, limit int) ([]audit.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 {
		limit = 1000
	}
	query := s.db.WithContext(ctx).Order("at ASC, id ASC").Limit(limit)
	if !since.IsZero() {
		query = query.Where("at > ?", since.UnixMilli())
	}
	var models []eventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsFromModels(models), nil
}

// CountByKind aggregates the journal for dashboards.
func (s *Store) CountByKind(ctx context.Context) (map[audit.Kind]int64, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	type row struct {
		Kind  string
		Total int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&eventModel{}).
		Select("kind, COUNT(*) AS total").
		Group("kind").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[audit.Kind]int64, len(rows))
	for _, r := range rows {
		out[audit.Kind(r.Kind)] = r.Total
	}
	return out, nil
}

func eventsFromModels(models []eventModel) []audit.Event {
	out := make([]audit.Event, 0, len(models))
	for _, m := range models {
		ev := audit.Event{
			ID:             m.EventID,
			Kind:           audit.Kind(m.Kind),
			At:             time.UnixMilli(m.AtMillis).UTC(),
			OrderID:        m.OrderID,
			GatewayOrderID: m.GatewayOrderID,
			Symbol:         m.Symbol,
			From:           m.FromStatus,
			To:             m.ToStatus,
			Detail:         m.Detail,
		}
		if len(m.Payload) > 0 {
			ev.Payload = json.RawMessage(m.Payload)
		}
		out = append(out, ev)
	}
	return out
}
