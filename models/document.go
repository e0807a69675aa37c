package models

import "time"

// Document holds the fields extracted from a machine readable zone.
type Document struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UserID         uint   `gorm:"index;not null"`
	DocumentType   string `gorm:"size:8;not null"` // TD1, TD2 or TD3
	DocumentNumber string `gorm:"size:16;index"`
	IssuingCountry string `gorm:"size:3"`
	Nationality    string `gorm:"size:3"`
	Sex            string `gorm:"size:1"`
	DateOfBirth    string `gorm:"size:6"`
	DateOfExpiry   string `gorm:"size:6"`
	Surname        string `gorm:"size:64"`
	GivenNames     string `gorm:"size:64"`
	OptionalData   string `gorm:"size:32"`
	Confidence     float64
	// Width-normalized MRZ lines as scanned, JSON-encoded.
	RawLines string `gorm:"type:text"`
}
