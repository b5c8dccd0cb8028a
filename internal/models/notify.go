package models

import "time"

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	URLs  []string // shoutrrr service URLs
	Level string   // "error" (failures only, default) or "info" (all outcomes)
}

// Notification describes the outcome of one operation for delivery.
type Notification struct {
	Operation    string
	Repository   string
	Success      bool
	Duration     time.Duration
	ErrorMessage string
}
