package api

import "time"

// WhoAmI from GET /api/room/whoami
type WhoAmI struct {
	Instance string `json:"instance"`
	Time     string `json:"time"` // ISO 8601
	Domain   string `json:"domain,omitempty"`
}

// ParsedTime returns Time as a time.Time.
func (w WhoAmI) ParsedTime() (time.Time, error) {
	return time.Parse(time.RFC3339, w.Time)
}
