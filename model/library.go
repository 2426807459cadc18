package model

import "time"

// UserLibraryEntry is a per-user reference to a catalog track. A user can
// reference a track at most once; the core never deletes rows.
type UserLibraryEntry struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64      `json:"userId" gorm:"not null;uniqueIndex:uq_user_track"`
	ExternalID   string     `json:"externalId" gorm:"size:64;not null;uniqueIndex:uq_user_track;index"`
	IsFavorite   bool       `json:"isFavorite" gorm:"default:false"`
	PlayCount    int64      `json:"playCount" gorm:"default:0"`
	LastPlayedAt *time.Time `json:"lastPlayedAt,omitempty"`
	AddedAt      time.Time  `json:"addedAt" gorm:"autoCreateTime"`
}

// TableName keeps the table name in line with the original schema.
func (UserLibraryEntry) TableName() string {
	return "user_libraries"
}
