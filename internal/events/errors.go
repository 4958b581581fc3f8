package events

import "tally/internal/pkg/validation"

// DeleteConfirmation is the exact phrase required to wipe a project's events.
const DeleteConfirmation = "delete the logs"

// ErrConfirmationMismatch is returned when a bulk wipe is not confirmed.
var ErrConfirmationMismatch = validation.New("confirmation", `confirmation text must be "`+DeleteConfirmation+`"`)
