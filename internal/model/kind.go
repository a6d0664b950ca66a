// Package model contains the records and error kinds shared by the ingestion
// pipeline, the lifecycle machines and both store implementations.
package model

import "fmt"

// RecordKind names the two record kinds an upload can carry.
type RecordKind string

const (
	KindOrganization RecordKind = "organization"
	KindPerson       RecordKind = "person"
)

// ParseRecordKind validates a kind supplied by a client.
func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(s) {
	case KindOrganization, KindPerson:
		return RecordKind(s), nil
	default:
		return "", fmt.Errorf("unknown record kind %q", s)
	}
}
