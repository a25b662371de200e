package ledger

import (
	"fmt"
	"time"
)

// Action is what the planner decides to do with a candidate.
type Action int

const (
	ActionSkip Action = iota
	ActionUpload
)

var actionToString = map[Action]string{
	ActionSkip:   "skip",
	ActionUpload: "upload",
}

// String returns the string representation of an Action.
func (a Action) String() string {
	if str, ok := actionToString[a]; ok {
		return str
	}
	return fmt.Sprintf("unknown_action(%d)", a)
}

// Reason explains why an action was decided.
type Reason int

const (
	// ReasonNew means the path has never been uploaded.
	ReasonNew Reason = iota
	// ReasonChanged means the path was modified since its last upload and the
	// policy asks for re-upload on change.
	ReasonChanged
	// ReasonUpToDate means a prior upload exists and no re-upload is due.
	ReasonUpToDate
)

var reasonToString = map[Reason]string{
	ReasonNew:      "new",
	ReasonChanged:  "changed",
	ReasonUpToDate: "up-to-date",
}

// String returns the string representation of a Reason.
func (r Reason) String() string {
	if str, ok := reasonToString[r]; ok {
		return str
	}
	return fmt.Sprintf("unknown_reason(%d)", r)
}

// Decision pairs an action with its reason.
type Decision struct {
	Action Action
	Reason Reason
}

// Decide is the single decision point for a candidate. It is a pure function
// of the prior ledger entry (nil if none), the candidate's current
// modification time, and the root policy's upload-if-changed flag.
//
// A candidate with no entry is always new. With an entry, the candidate is
// changed iff its mtime is strictly greater than the mtime observed at the
// last upload; a changed candidate is only re-uploaded when uploadIfChanged
// is set.
func Decide(entry *Entry, modTime time.Time, uploadIfChanged bool) Decision {
	if entry == nil {
		return Decision{Action: ActionUpload, Reason: ReasonNew}
	}
	if uploadIfChanged && modTime.After(entry.ObservedMTime) {
		return Decision{Action: ActionUpload, Reason: ReasonChanged}
	}
	return Decision{Action: ActionSkip, Reason: ReasonUpToDate}
}
