package models

// OperationSequence is the per-day counter backing operation id allocation.
// Allocators read the row FOR UPDATE, so the lock lives until their
// transaction commits and two finalizers can never observe the same value.
type OperationSequence struct {
	Day        string `gorm:"primary_key;size:8" json:"day"`
	LastNumber int    `gorm:"not null;default:0" json:"last_number"`
}
