package models

// ContentItem is a reusable exercise set from the content library
type ContentItem struct {
	ID            string           `yaml:"id" json:"id"`
	Title         string           `yaml:"title" json:"title"`
	Description   string           `yaml:"description" json:"description"`
	Language      string           `yaml:"language" json:"language"`
	Type          SessionType      `yaml:"type" json:"type"`
	Level         ProficiencyLevel `yaml:"level" json:"level"`
	CulturalNote  string           `yaml:"cultural_note" json:"cultural_note,omitempty"`
	Tags          []string         `yaml:"tags" json:"tags,omitempty"`
	EstimatedMins int              `yaml:"estimated_minutes" json:"estimated_minutes"`
	Exercises     []Exercise       `yaml:"exercises" json:"exercises"`
}

// ContentSummary is a content item without its exercises (answers stay hidden)
type ContentSummary struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Language      string           `json:"language"`
	Type          SessionType      `json:"type"`
	Level         ProficiencyLevel `json:"level"`
	CulturalNote  string           `json:"cultural_note,omitempty"`
	EstimatedMins int              `json:"estimated_minutes"`
	Exercises     int              `json:"exercises"`
}

// Summary strips exercises from the item
func (c *ContentItem) Summary() ContentSummary {
	return ContentSummary{
		ID:            c.ID,
		Title:         c.Title,
		Language:      c.Language,
		Type:          c.Type,
		Level:         c.Level,
		CulturalNote:  c.CulturalNote,
		EstimatedMins: c.EstimatedMins,
		Exercises:     len(c.Exercises),
	}
}

// Recommendation is one suggested next activity for a user
type Recommendation struct {
	SessionType SessionType      `json:"session_type"`
	Skill       SkillType        `json:"skill"`
	SkillLevel  float64          `json:"skill_level"`
	Level       ProficiencyLevel `json:"level"`
	Reason      string           `json:"reason"`
	Content     []ContentSummary `json:"content"`
}
