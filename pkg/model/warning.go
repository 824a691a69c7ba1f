package model

import "fmt"

// Warning is a soft, non-fatal diagnostic produced when a batch operation
// skips one of its members.
type Warning struct {
	Stage   string `json:"stage"`   // e.g. "buffer", "filter", "merge"
	Subject string `json:"subject"` // node id, parcel id or island index
	Message string `json:"message"`
}

// NewWarning creates a warning from an error.
func NewWarning(stage, subject string, err error) Warning {
	return Warning{Stage: stage, Subject: subject, Message: err.Error()}
}

func (w Warning) String() string {
	return fmt.Sprintf("%s[%s]: %s", w.Stage, w.Subject, w.Message)
}
