package models

// Setting is a runtime-editable key/value pair (texts, limits, the node
// list as JSON). Edited through admin tooling, re-read by the code that
// needs fresh values.
type Setting struct {
	Key         string `gorm:"primaryKey;size:128"`
	Value       string `gorm:"type:text"`
	Description string `gorm:"type:text"`
}
