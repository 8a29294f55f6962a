package pipeline

import (
	"context"
)

// StageID enumerates the fixed set of pipeline stages.
type StageID int

const (
	stageNone StageID = iota
	StageClassifier
	StageExtractor
	StageVerifier
	StageCrosscheck
	StageCredibility
	StageFormatter
)

func (id StageID) String() string {
	switch id {
	case StageClassifier:
		return "classifier"
	case StageExtractor:
		return "extractor"
	case StageVerifier:
		return "verifier"
	case StageCrosscheck:
		return "crosscheck"
	case StageCredibility:
		return "credibility"
	case StageFormatter:
		return "formatter"
	default:
		return "none"
	}
}

// Stage is one step of the evaluation. Execute returns a delta holding
// exactly the groups named by Produces.
type Stage interface {
	ID() StageID
	Requires() []FieldGroup
	Produces() []FieldGroup
	Execute(ctx context.Context, st State) (Delta, error)
}

// next is the static transition table. The only branch is after the
// classifier; stageNone ends the run.
func next(current StageID, st State) StageID {
	switch current {
	case StageClassifier:
		return Route(st)
	case StageExtractor:
		return StageVerifier
	case StageVerifier:
		return StageCrosscheck
	case StageCrosscheck:
		return StageCredibility
	case StageCredibility:
		return StageFormatter
	default:
		return stageNone
	}
}
