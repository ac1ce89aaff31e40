package model

import "time"

// StatusHistory is one entry in an issue's status timeline. The entry
// written when the issue is reported has a nil OldStatus.
type StatusHistory struct {
	ID        string    `gorm:"primaryKey;size:20" json:"id"`
	IssueID   string    `gorm:"size:20;not null;index" json:"issue_id"`
	Issue     *Issue    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	OldStatus *Status   `gorm:"size:20" json:"old_status"`
	NewStatus Status    `gorm:"size:20;not null" json:"new_status"`
	UpdatedBy string    `gorm:"size:20;not null;index" json:"updated_by"`
	Updater   *User     `gorm:"foreignKey:UpdatedBy;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Notes     string    `gorm:"type:text;not null;default:''" json:"notes"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}

func (StatusHistory) TableName() string {
	return "status_history"
}
