package model

import (
	"fmt"
	"time"
)

// SubjectKind is the closed set of record kinds an owner can be assigned to.
type SubjectKind string

const (
	SubjectSegment      SubjectKind = "segment"
	SubjectOrganization SubjectKind = "organization"
	SubjectPerson       SubjectKind = "person"
)

// Subject is a reference to an assignable record. The only implementations
// are SegmentRef, OrganizationRef and PersonRef.
type Subject interface {
	Kind() SubjectKind
	SubjectID() string
	subject()
}

type SegmentRef struct{ ID string }
type OrganizationRef struct{ ID string }
type PersonRef struct{ ID string }

func (r SegmentRef) Kind() SubjectKind { return SubjectSegment }
func (r SegmentRef) SubjectID() string { return r.ID }
func (SegmentRef) subject() {}
func (r OrganizationRef) Kind() SubjectKind { return SubjectOrganization }
func (r OrganizationRef) SubjectID() string { return r.ID }
func (OrganizationRef) subject() {}
func (r PersonRef) Kind() SubjectKind { return SubjectPerson }
func (r PersonRef) SubjectID() string { return r.ID }
func (PersonRef) subject() {}

// NewSubject builds the typed reference for a kind received over the wire.
func NewSubject(kind SubjectKind, id string) (Subject, error) {
	switch kind {
	case SubjectSegment:
		return SegmentRef{ID: id}, nil
	case SubjectOrganization:
		return OrganizationRef{ID: id}, nil
	case SubjectPerson:
		return PersonRef{ID: id}, nil
	default:
		return nil, fmt.Errorf("unknown subject kind %q", kind)
	}
}

// Assignment is an ownership edge. (SubjectKind, SubjectID, OwnerID) is unique.
type Assignment struct {
	ID          string      `json:"id"`
	SubjectKind SubjectKind `json:"subjectKind"`
	SubjectID   string      `json:"subjectId"`
	OwnerID     string      `json:"ownerId"`
	GrantorID   string      `json:"grantorId"`
	CreatedAt   time.Time   `json:"createdAt"`
}
