package model

// TrackReference holds the immutable facts about a track as reported by the
// metadata provider. Never mutated after creation.
type TrackReference struct {
	ExternalID string `json:"externalId"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Duration   int    `json:"duration"` // seconds
}
