package model

import "time"

// Comment is a remark attached to an issue.
//
// The body column is "content". Older databases named it "text"; the
// migrator renames it in place.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:20" json:"id"`
	IssueID   string    `gorm:"size:20;not null;index" json:"issue_id"`
	Issue     *Issue    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	UserID    string    `gorm:"size:20;not null;index" json:"user_id"`
	Author    *User     `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"author,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
