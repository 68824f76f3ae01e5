package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fluxrisk/core/events"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

var errNilDB = errors.New("audit: database not configured")

// subjectKeys lists the attributes identifying the aggregate an event
// belongs to, in lookup order.
var subjectKeys = []string{"vault", "user", "from"}

// Open connects to the journal database and migrates its schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return db, nil
}

// Journal persists every emitted event as an audit entry. It implements
// events.Emitter; write failures are logged and never reach the engines.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	seq    atomic.Uint64
}

// NewJournal constructs a journal over db.
func NewJournal(db *gorm.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, logger: logger, now: time.Now}
	if db != nil {
		var last Entry
		if err := db.Order("sequence desc").Limit(1).Find(&last).Error; err == nil {
			j.seq.Store(last.Sequence)
		}
	}
	return j
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("audit journal write failed", slog.Any("error", err))
	}
}

// Append writes evt to the journal.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	if j == nil || j.db == nil {
		return errNilDB
	}
	rendered := events.Render(evt)
	if rendered == nil {
		return nil
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("audit: encode attributes: %w", err)
	}
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.seq.Add(1),
		Type:       rendered.Type,
		Subject:    subject(rendered.Attributes),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// Query filters journal reads.
type Query struct {
	Type    string
	Subject string
	Limit   int
}

// Recent returns the newest entries matching q, newest first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, errNilDB
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{})
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if s := strings.TrimSpace(q.Subject); s != "" {
		tx = tx.Where("subject = ?", s)
	}
	var entries []Entry
	if err := tx.Order("sequence desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func subject(attrs map[string]string) string {
	for _, key := range subjectKeys {
		if value := attrs[key]; value != "" {
			return value
		}
	}
	return ""
}
