package pipeline

import (
	"github.com/sells-group/credcheck/internal/model"
)

// FieldGroup names one write-once slot of the run state.
type FieldGroup string

const (
	GroupFilePaths      FieldGroup = "file_paths"
	GroupClassification FieldGroup = "classification"
	GroupExtraction     FieldGroup = "extraction"
	GroupVerification   FieldGroup = "verification"
	GroupCrosscheck     FieldGroup = "crosscheck"
	GroupCredibility    FieldGroup = "credibility"
	GroupResult         FieldGroup = "result"
)

// allGroups is the canonical group order.
var allGroups = []FieldGroup{
	GroupFilePaths,
	GroupClassification,
	GroupExtraction,
	GroupVerification,
	GroupCrosscheck,
	GroupCredibility,
	GroupResult,
}

// State accumulates stage outputs for a single run. A nil group has not
// been written yet.
type State struct {
	FilePaths      *model.FilePaths      `json:"file_paths,omitempty"`
	Classification *model.Classification `json:"classification,omitempty"`
	Extraction     *model.Extraction     `json:"extraction,omitempty"`
	Verification   *model.Verification   `json:"verification,omitempty"`
	Crosscheck     *model.Crosscheck     `json:"crosscheck,omitempty"`
	Credibility    *model.Credibility    `json:"credibility,omitempty"`
	Result         *model.Result         `json:"result,omitempty"`
}

// Delta is the partial state a stage returns; only its own groups are set.
type Delta = State

// NewState seeds a state with the document locations.
func NewState(paths model.FilePaths) State {
	return State{FilePaths: &paths}
}

// Has reports whether group g has been written.
func (s State) Has(g FieldGroup) bool {
	switch g {
	case GroupFilePaths:
		return s.FilePaths != nil
	case GroupClassification:
		return s.Classification != nil
	case GroupExtraction:
		return s.Extraction != nil
	case GroupVerification:
		return s.Verification != nil
	case GroupCrosscheck:
		return s.Crosscheck != nil
	case GroupCredibility:
		return s.Credibility != nil
	case GroupResult:
		return s.Result != nil
	default:
		return false
	}
}

// Groups returns the written groups in canonical order.
func (s State) Groups() []FieldGroup {
	var out []FieldGroup
	for _, g := range allGroups {
		if s.Has(g) {
			out = append(out, g)
		}
	}
	return out
}

// Missing returns the groups of want that s does not hold.
func (s State) Missing(want []FieldGroup) []FieldGroup {
	var out []FieldGroup
	for _, g := range want {
		if !s.Has(g) {
			out = append(out, g)
		}
	}
	return out
}

// Merge returns a new state holding the groups of both s and d. Writing a
// group twice is a ConflictError; s is never modified.
func Merge(s State, d Delta) (State, error) {
	for _, g := range d.Groups() {
		if s.Has(g) {
			return s, &ConflictError{Group: g, Reason: "already written"}
		}
	}

	out := s
	if d.FilePaths != nil {
		out.FilePaths = d.FilePaths
	}
	if d.Classification != nil {
		out.Classification = d.Classification
	}
	if d.Extraction != nil {
		out.Extraction = d.Extraction
	}
	if d.Verification != nil {
		out.Verification = d.Verification
	}
	if d.Crosscheck != nil {
		out.Crosscheck = d.Crosscheck
	}
	if d.Credibility != nil {
		out.Credibility = d.Credibility
	}
	if d.Result != nil {
		out.Result = d.Result
	}
	return out, nil
}
