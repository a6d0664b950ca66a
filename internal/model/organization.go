package model

import "time"

type OrganizationStatus string

const (
	OrganizationPending  OrganizationStatus = "pending"
	OrganizationApproved OrganizationStatus = "approved"
	OrganizationRejected OrganizationStatus = "rejected"
)

// Organization is a company scoped to exactly one segment. RejectionReason is
// set if and only if Status is rejected.
type Organization struct {
	ID              string             `json:"id"`
	SegmentID       string             `json:"segmentId"`
	Name            string             `json:"name"`
	Website         string             `json:"website,omitempty"`
	Industry        string             `json:"industry,omitempty"`
	Phone           string             `json:"phone,omitempty"`
	City            string             `json:"city,omitempty"`
	Country         string             `json:"country,omitempty"`
	Description     string             `json:"description,omitempty"`
	FoundedYear     *int               `json:"foundedYear,omitempty"`
	EmployeeCount   *int               `json:"employeeCount,omitempty"`
	NameKey         string             `json:"-"`
	WebsiteKey      string             `json:"-"`
	Status          OrganizationStatus `json:"status"`
	RejectionReason *string            `json:"rejectionReason,omitempty"`
	ApprovedBy      *string            `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time         `json:"approvedAt,omitempty"`
	RejectedBy      *string            `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time         `json:"rejectedAt,omitempty"`
	Duplicate       bool               `json:"duplicate"`
	BatchID         *string            `json:"batchId,omitempty"`
	CreatedBy       string             `json:"createdBy"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// OrganizationDraft is a validated, normalized organization row that has not
// been written yet.
type OrganizationDraft struct {
	SegmentID     string
	Name          string
	Website       string
	Industry      string
	Phone         string
	City          string
	Country       string
	Description   string
	FoundedYear   *int
	EmployeeCount *int
	NameKey       string
	WebsiteKey    string
}

// OrganizationChange carries the fields a status transition writes together
// with the new status.
type OrganizationChange struct {
	Actor  string
	Reason string
	At     time.Time
}
