package models

import "time"

// TopicPrefix names every live signaling topic: live-<streamerId>.
// Both sides derive the topic independently, so this must never change.
const TopicPrefix = "live-"

// Topic returns the signaling topic for a streamer identity
func Topic(streamerID string) string {
	return TopicPrefix + streamerID
}

// DirectoryEntry is one live streamer as listed by the directory
type DirectoryEntry struct {
	ID          string    `json:"id" msgpack:"id"`
	DisplayName string    `json:"displayName,omitempty" msgpack:"display_name,omitempty"`
	LiveSince   time.Time `json:"liveSince" msgpack:"live_since"`
}

// SetLiveRequest is the request body for toggling the caller's live flag
type SetLiveRequest struct {
	Live        *bool  `json:"live" binding:"required"`
	DisplayName string `json:"displayName,omitempty" binding:"max=64"`
}

// LiveListResponse is the response for listing live streamers
type LiveListResponse struct {
	Entries []DirectoryEntry `json:"entries"`
}
