package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/native/store"
	"storechain/observability"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultQueue = 1024
	maxLimit     = 500
)

// Open connects to the index database and migrates its schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer persists committed events. It satisfies events.Emitter; emitted
// events are queued and written by a background worker so the ledger never
// waits on the database.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu      sync.Mutex
	nextSeq uint64
	queue   chan *types.Event
	done    chan struct{}
	closed  bool
}

// New creates an indexer over db and starts its writer.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	idx := &Indexer{
		db:      db,
		logger:  log,
		nowFn:   time.Now,
		nextSeq: last.Sequence + 1,
		queue:   make(chan *types.Event, defaultQueue),
		done:    make(chan struct{}),
	}
	go idx.run()
	return idx, nil
}

// Emit implements events.Emitter. A full queue drops the event.
func (i *Indexer) Emit(evt events.Event) {
	typed := events.ToTyped(evt)
	if typed == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.queue <- typed.Clone():
	default:
		observability.Events().RecordDrop()
		i.logger.Warn("indexer queue full, event dropped", slog.String("type", typed.Type))
	}
}

func (i *Indexer) run() {
	defer close(i.done)
	for evt := range i.queue {
		if _, err := i.Record(context.Background(), evt); err != nil {
			i.logger.Error("index event", slog.String("type", evt.Type), slog.Any("error", err))
		}
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (i *Indexer) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.queue)
	i.mu.Unlock()
	<-i.done
}

// Record writes evt synchronously and returns the stored row.
func (i *Indexer) Record(ctx context.Context, evt *types.Event) (*EventRecord, error) {
	if evt == nil {
		return nil, fmt.Errorf("indexer: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	seq := i.nextSeq
	i.nextSeq++
	i.mu.Unlock()

	now := i.nowFn().UTC()
	record := &EventRecord{
		ID:         uuid.New(),
		Sequence:   seq,
		Type:       evt.Type,
		Store:      evt.Attributes["store"],
		Attributes: string(attrs),
		CreatedAt:  now,
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if evt.Type != store.EventTypePurchaseCompleted {
			return nil
		}
		return tx.Create(purchaseFromEvent(record, evt)).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func purchaseFromEvent(event *EventRecord, evt *types.Event) *PurchaseRecord {
	attrs := evt.Attributes
	productID, _ := strconv.ParseUint(attrs["productId"], 10, 64)
	refund := attrs["refund"]
	if refund == "" {
		refund = "0"
	}
	return &PurchaseRecord{
		ID:             uuid.New(),
		EventID:        event.ID,
		Sequence:       event.Sequence,
		Store:          attrs["store"],
		Buyer:          attrs["buyer"],
		Referrer:       attrs["referrer"],
		ProductID:      productID,
		Price:          attrs["price"],
		ScheduleTotal:  attrs["scheduleTotal"],
		PaidCommission: attrs["paidCommission"],
		PlatformCut:    attrs["platformCut"],
		PlatformTo:     attrs["platformTo"],
		Remainder:      attrs["remainder"],
		Refund:         refund,
		CreatedAt:      event.CreatedAt,
	}
}

// Filter narrows event queries. Zero fields match everything.
type Filter struct {
	Type  string
	Store string
	After uint64
	Limit int
}

// Query returns events in sequence order.
func (i *Indexer) Query(ctx context.Context, f Filter) ([]EventRecord, error) {
	q := i.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", f.After)
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if s := strings.ToLower(strings.TrimSpace(f.Store)); s != "" {
		q = q.Where("store = ?", s)
	}
	var out []EventRecord
	if err := q.Order("sequence asc").Limit(clampLimit(f.Limit)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Purchases returns purchases made in store, optionally restricted to one
// buyer, oldest first.
func (i *Indexer) Purchases(ctx context.Context, storeAddr, buyer string, limit int) ([]PurchaseRecord, error) {
	q := i.db.WithContext(ctx).Model(&PurchaseRecord{})
	if s := strings.ToLower(strings.TrimSpace(storeAddr)); s != "" {
		q = q.Where("store = ?", s)
	}
	if b := strings.ToLower(strings.TrimSpace(buyer)); b != "" {
		q = q.Where("buyer = ?", b)
	}
	var out []PurchaseRecord
	if err := q.Order("sequence asc").Limit(clampLimit(limit)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Decode returns the stored attribute map.
func (r EventRecord) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}

var _ events.Emitter = (*Indexer)(nil)
