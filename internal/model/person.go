package model

import "time"

// PersonStatus is strictly forward-only: uploaded, approved, owned, scheduled.
type PersonStatus string

const (
	PersonUploaded  PersonStatus = "uploaded"
	PersonApproved  PersonStatus = "approved"
	PersonOwned     PersonStatus = "owned"
	PersonScheduled PersonStatus = "scheduled"
)

// Person is a contact at exactly one organization. SegmentID is copied from the
// parent at creation time and never propagated afterwards.
type Person struct {
	ID                 string       `json:"id"`
	OrganizationID     string       `json:"organizationId"`
	SegmentID          string       `json:"segmentId"`
	FirstName          string       `json:"firstName"`
	LastName           string       `json:"lastName"`
	Email              string       `json:"email"`
	EmailKey           string       `json:"-"`
	Phone              string       `json:"phone,omitempty"`
	Title              string       `json:"title,omitempty"`
	LinkedIn           string       `json:"linkedin,omitempty"`
	Status             PersonStatus `json:"status"`
	OwnerID            *string      `json:"ownerId,omitempty"`
	ApprovedBy         *string      `json:"approvedBy,omitempty"`
	ApprovedAt         *time.Time   `json:"approvedAt,omitempty"`
	MeetingScheduledAt *time.Time   `json:"meetingScheduledAt,omitempty"`
	Duplicate          bool         `json:"duplicate"`
	BatchID            *string      `json:"batchId,omitempty"`
	CreatedBy          string       `json:"createdBy"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// PersonDraft is a validated, normalized person row.
type PersonDraft struct {
	OrganizationID string
	FirstName      string
	LastName       string
	Email          string
	EmailKey       string
	Phone          string
	Title          string
	LinkedIn       string
}

// PersonChange carries the fields written alongside a person status change.
// OwnerID is only applied by the owned transition; MeetingAt only by scheduled.
type PersonChange struct {
	Actor     string
	OwnerID   string
	MeetingAt time.Time
	At        time.Time
}
