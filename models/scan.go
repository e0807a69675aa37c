package models

import "time"

// QRScan is one decoded QR symbol from a scanned frame.
type QRScan struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UserID    uint  `gorm:"index;not null"`
	UploadID  *uint `gorm:"index"` // set when the frame itself was stored
	Payload   string `gorm:"type:text;not null"`
	Version   int
	// Corner quad in original-frame pixel space, JSON-encoded.
	Bounds string `gorm:"type:text"`
}
