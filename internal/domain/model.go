package domain

import (
	"time"

	"github.com/StergiosCha/perpatame/pkg/database"
)

// StoryModel is the GORM model for the stories table.
type StoryModel struct {
	ID              string               `gorm:"type:varchar(26);primaryKey"`
	OriginalText    string               `gorm:"type:text;not null"`
	TransformedText string               `gorm:"type:text;not null"`
	AuthorName      string               `gorm:"type:varchar(100)"`
	Style           string               `gorm:"type:varchar(32)"`
	ThemeName       string               `gorm:"type:varchar(32)"`
	ThemeEmojis     database.StringArray `gorm:"type:text"`
	ThemeAnimation  string               `gorm:"type:varchar(32)"`
	ThemeColor      string               `gorm:"type:varchar(16)"`
	Comment         string               `gorm:"type:text"`
	Status          string               `gorm:"type:varchar(16);not null;index:idx_stories_status_created,priority:1;index:idx_stories_status_decided,priority:1"`
	CreatedAt       time.Time            `gorm:"not null;index:idx_stories_status_created,priority:2"`
	DecidedAt       *time.Time           `gorm:"index:idx_stories_status_decided,priority:2"`
	DecidedBy       string               `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM.
func (StoryModel) TableName() string {
	return "stories"
}

// ToDomain converts the GORM model to a domain Story.
func (m *StoryModel) ToDomain() *Story {
	s := &Story{
		ID:              m.ID,
		OriginalText:    m.OriginalText,
		TransformedText: m.TransformedText,
		AuthorName:      m.AuthorName,
		Style:           m.Style,
		Comment:         m.Comment,
		Status:          StoryStatus(m.Status),
		CreatedAt:       m.CreatedAt.UTC(),
		DecidedBy:       m.DecidedBy,
	}
	if m.DecidedAt != nil {
		t := m.DecidedAt.UTC()
		s.DecidedAt = &t
	}
	if m.ThemeName != "" || len(m.ThemeEmojis) > 0 {
		s.Theme = &Theme{
			Name:      m.ThemeName,
			Emojis:    []string(m.ThemeEmojis),
			Animation: m.ThemeAnimation,
			Color:     m.ThemeColor,
		}
	}
	return s
}

// StoryToModel converts a domain Story to its GORM model.
func StoryToModel(s *Story) *StoryModel {
	m := &StoryModel{
		ID:              s.ID,
		OriginalText:    s.OriginalText,
		TransformedText: s.TransformedText,
		AuthorName:      s.AuthorName,
		Style:           s.Style,
		Comment:         s.Comment,
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt,
		DecidedAt:       s.DecidedAt,
		DecidedBy:       s.DecidedBy,
	}
	if s.Theme != nil {
		m.ThemeName = s.Theme.Name
		m.ThemeEmojis = database.StringArray(s.Theme.Emojis)
		m.ThemeAnimation = s.Theme.Animation
		m.ThemeColor = s.Theme.Color
	}
	return m
}
