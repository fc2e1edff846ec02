package store

import "fmt"

// NotFoundError is returned when a dashboard does not exist for the requesting
// owner. A dashboard owned by someone else fails identically to a missing row.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("A dashboard with the id %d does not exist for this user", e.ID)
}

// NameConflictError is returned when a dashboard name collides with another
// dashboard of the same owner, or with any public dashboard when Public is set.
type NameConflictError struct {
	Name   string
	Public bool
}

func (e *NameConflictError) Error() string {
	if e.Public {
		return fmt.Sprintf("A dashboard with the name %s is already public. Change the name before attempting again.", e.Name)
	}
	return fmt.Sprintf("A dashboard with the name %s already exists. Change the name before attempting again.", e.Name)
}
