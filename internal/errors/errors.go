// internal/errors/errors.go
package appErrors

import "fmt"

// ErrLeadNotFound is a sentinel error
type ErrLeadNotFound struct {
	LeadID string
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead %s not found", e.LeadID)
}

// Helper constructor
func NewLeadNotFound(id string) error {
	return &ErrLeadNotFound{LeadID: id}
}

// ErrLeadNotActive signals an attempted transition on a lead whose status
// does not permit it. No state is mutated when this is returned.
type ErrLeadNotActive struct {
	LeadID string
	Status string
}

func (e *ErrLeadNotActive) Error() string {
	return fmt.Sprintf("lead %s is not active (status %s)", e.LeadID, e.Status)
}

func NewLeadNotActive(id, status string) error {
	return &ErrLeadNotActive{LeadID: id, Status: status}
}

// ErrStaleProgress signals that a progress write lost a race: the stored
// record moved past the snapshot the caller was holding. The caller must
// re-read before retrying.
type ErrStaleProgress struct {
	LeadID string
}

func (e *ErrStaleProgress) Error() string {
	return fmt.Sprintf("progress for lead %s changed concurrently", e.LeadID)
}

func NewStaleProgress(id string) error {
	return &ErrStaleProgress{LeadID: id}
}

// ErrUnknownTeam rejects operations against a team that does not exist.
type ErrUnknownTeam struct {
	TeamID string
}

func (e *ErrUnknownTeam) Error() string {
	return fmt.Sprintf("unknown team %q", e.TeamID)
}

func NewUnknownTeam(id string) error {
	return &ErrUnknownTeam{TeamID: id}
}

// ErrInvalidBatchSize rejects malformed selection requests synchronously.
type ErrInvalidBatchSize struct {
	Size int
}

func (e *ErrInvalidBatchSize) Error() string {
	return fmt.Sprintf("invalid batch size %d", e.Size)
}

func NewInvalidBatchSize(size int) error {
	return &ErrInvalidBatchSize{Size: size}
}
