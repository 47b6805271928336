package azcopy

import "strings"

type statusClass int

const (
	classUnknown statusClass = iota
	classPending
	classRunning
	classSucceeded
	classFailed
	classCanceled
)

// statusVocabulary maps normalized raw azcopy statuses to a class.
// canceling/cancelling are still running: the job has not stopped yet.
var statusVocabulary = map[string]statusClass{
	"queued":  classPending,
	"pending": classPending,
	"new":     classPending,

	"running":     classRunning,
	"inprogress":  classRunning,
	"in progress": classRunning,
	"progress":    classRunning,
	"started":     classRunning,
	"paused":      classRunning,
	"resuming":    classRunning,
	"resumed":     classRunning,
	"canceling":   classRunning,
	"cancelling":  classRunning,

	"completed":             classSucceeded,
	"completedsuccessfully": classSucceeded,
	"completedwithskipped":  classSucceeded,
	"success":               classSucceeded,
	"succeeded":             classSucceeded,

	"failed":                        classFailed,
	"completedwitherrors":           classFailed,
	"completed with errors":         classFailed,
	"completedwitherrorsandskipped": classFailed,
	"error":                         classFailed,

	"cancelled": classCanceled,
	"canceled":  classCanceled,
}

var classStates = map[statusClass]State{
	classUnknown:   StateUnknown,
	classPending:   StatePending,
	classRunning:   StateRunning,
	classSucceeded: StateSucceeded,
	classFailed:    StateFailed,
	classCanceled:  StateCanceled,
}

func classify(raw string) statusClass {
	status := strings.ToLower(strings.TrimSpace(raw))
	if status == "" {
		return classUnknown
	}
	if c, ok := statusVocabulary[status]; ok {
		return c
	}
	if strings.Contains(status, "cancel") {
		return classCanceled
	}
	return classUnknown
}

// ClassifyStatus maps a raw azcopy job status to a State. It is total:
// anything unrecognized is StateUnknown.
func ClassifyStatus(raw string) State {
	return classStates[classify(raw)]
}

// FinalState is the State reported in a Summary. A terminal job with any
// failed transfer is StateFailed, even when azcopy reports success.
// Non-terminal states pass through unchanged.
func FinalState(raw string, failedTransfers int64) State {
	state := ClassifyStatus(raw)
	if state.Terminal() && failedTransfers > 0 {
		return StateFailed
	}
	return state
}
