package codeintel

import (
	"github.com/jward/codeintel/internal/citadel"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/scandb"
	"github.com/jward/codeintel/internal/trigger"
)

// Public aliases for the internal types used by the Engine API. External
// consumers use these names; no conversion is needed.

type Node = cix.Node
type Trigger = trigger.Trigger
type TriggerKind = trigger.Kind

// Stats reports scan database activity and background scan load.
type Stats struct {
	scandb.Stats
	// PendingScans is the number of background scans queued but not started.
	PendingScans int
}

// Result is the answer to one trigger. A degraded answer is empty.
type Result = citadel.Result

// Candidate is one completion.
type Candidate = citadel.Candidate

// Trigger kinds.
const (
	CompleteMembers = trigger.CompleteMembers
	CompleteNames   = trigger.CompleteNames
	Calltip         = trigger.Calltip
	CalltipArg      = trigger.CalltipArg
	CompleteEndTag  = trigger.CompleteEndTag
)
