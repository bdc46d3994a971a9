package models

import (
	"time"
)

// Event mirrors one decoded contract log. Rows of one kind ordered by
// log_index reproduce the on-chain append order.
type Event struct {
	Kind      string    `json:"kind" gorm:"type:text;primaryKey"`
	LogIndex  int64     `json:"logIndex" gorm:"primaryKey;autoIncrement:false"`
	SubjectID int64     `json:"subjectId" gorm:"index"`
	Actor     string    `json:"actor" gorm:"type:text;index"`
	Payload   string    `json:"payload" gorm:"type:text"`
	CDate     time.Time `json:"cdate" gorm:"autoCreateTime"`
}
