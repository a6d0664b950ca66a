package model

import "time"

// Segment is the grouping an organization belongs to. Organization dedup keys
// are scoped per segment.
type Segment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
