package domain

import "time"

// EventType enumerates analytics event kinds.
type EventType string

const (
	EventPageView   EventType = "pageview"
	EventClick      EventType = "click"
	EventSessionEnd EventType = "session_end"
)

// AnalyticsEvent is append-only: once built it is only transmitted or dropped.
type AnalyticsEvent struct {
	SessionID        string         `json:"sessionId"`
	UserID           string         `json:"userId,omitempty"`
	EventType        EventType      `json:"eventType"`
	Page             string         `json:"page"`
	Referrer         string         `json:"referrer,omitempty"`
	EntryPage        string         `json:"entryPage,omitempty"`
	ExitPage         string         `json:"exitPage,omitempty"`
	DeviceType       string         `json:"deviceType,omitempty"`
	Browser          string         `json:"browser,omitempty"`
	OS               string         `json:"os,omitempty"`
	ScreenResolution string         `json:"screenResolution,omitempty"`
	TimeSpent        *int64         `json:"timeSpent,omitempty"`
	SessionDuration  *int64         `json:"sessionDuration,omitempty"`
	IsBounce         *bool          `json:"isBounce,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
