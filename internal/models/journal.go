package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// JournalEntry is a free-text trading journal note. It never affects the risk ledger.
type JournalEntry struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	AccountID      uint           `gorm:"index;not null" json:"account_id"`
	TradeID        *string        `gorm:"size:36;index" json:"trade_id,omitempty"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	SentimentScore *float64       `json:"sentiment_score,omitempty"`
	EmotionalTags  datatypes.JSON `json:"emotional_tags,omitempty"`
	AIFeedback     string         `gorm:"type:text" json:"ai_feedback,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for JournalEntry model
func (JournalEntry) TableName() string {
	return "journal_entries"
}

// SetEmotionalTags stores the tag list as JSON
func (j *JournalEntry) SetEmotionalTags(tags []string) {
	if len(tags) == 0 {
		j.EmotionalTags = nil
		return
	}
	raw, _ := json.Marshal(tags)
	j.EmotionalTags = datatypes.JSON(raw)
}
