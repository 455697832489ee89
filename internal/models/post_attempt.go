package models

import "time"

// PostAttempt records the outcome of processing one input row.
type PostAttempt struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	RunID     string    `gorm:"size:36;index"`
	Filename  string    `gorm:"size:512"`
	Outcome   string    `gorm:"size:32;index"`
	Detail    string    `gorm:"type:text"`
	MediaID   string    `gorm:"size:128"`
	CreatedAt time.Time
}
