// Package services implements the business operations that span several repositories:
// the band and school membership workflows and the all-or-nothing profile deletion.
package services

// Actor is the signed-in caller of an operation
type Actor struct {
	ProfileID string
	Admin     bool
}

// Notifier receives a refresh notification after a mutation
type Notifier interface {
	Refresh(table, id string, topics ...string)
}

type nopNotifier struct{}

func (nopNotifier) Refresh(string, string, ...string) {}
