package models

import "time"

// Run status values.
const (
	RunRunning     = "running"
	RunFinished    = "finished"
	RunNothingToDo = "nothing_to_do"
	RunStopped     = "stopped"
	RunFailed      = "failed"
)

// Run is one posting run for an account.
type Run struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Username   string    `gorm:"size:128;index"`
	InputPath  string    `gorm:"size:512"`
	Status     string    `gorm:"size:16;default:running;index"`
	Total      int
	Posted     int
	Failed     int
	Skipped    int
	Error      string    `gorm:"type:text"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
}
