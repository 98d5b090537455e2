package model

import "time"

// Reminder is a pending one-shot reminder for a WhatsApp user. A row exists
// only while the reminder is pending; firing or cancelling deletes the row,
// so presence in the table is the pending state.
type Reminder struct {
	ID          uint      `gorm:"primaryKey"`
	Recipient   string    `gorm:"index;not null"`
	Topic       string    `gorm:"type:text;not null"`
	Phrase      string    `gorm:"type:text"`
	ScheduledAt time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}
