package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one journaled engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"index" json:"sequence"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Subject    string    `gorm:"size:96;index" json:"subject,omitempty"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name regardless of naming strategy.
func (Entry) TableName() string { return "audit_entries" }

// AutoMigrate performs the journal schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}
