package models

import (
	"time"
)

// Upload represents a stored camera frame or document image submitted for
// scanning. The file lives on disk under the upload base; the row keeps the
// scan outcome so failed frames stay reviewable instead of being deleted.
type Upload struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FileName    string  `gorm:"size:255;not null"`
	StorePath   string  `gorm:"column:store_path;size:512"` // relative path under the upload base
	ProfileID   uint    `gorm:"index;not null"`             // FK to profiles.id
	Profile     Profile `gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ContentType string  `gorm:"size:128"`
	// Frame width/height as decoded, for coordinate sanity when reviewing bounds.
	Width  int
	Height int
	// Mark the frame as failed for scanning (keep the record for review).
	Failed       bool   `gorm:"default:false;index"`
	FailedReason string `gorm:"size:255"`
	Scans        []QRScan `gorm:"foreignKey:UploadID"`
}
