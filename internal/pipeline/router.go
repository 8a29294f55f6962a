package pipeline

import (
	"github.com/sells-group/credcheck/internal/model"
)

// Route picks the stage that follows classification. Documents that are not
// credentials skip straight to formatting.
func Route(st State) StageID {
	if st.Classification != nil && st.Classification.DocumentType == model.CategoryNotValid {
		return StageFormatter
	}
	return StageExtractor
}
