package search

import (
	"strings"

	"github.com/knowos/kbase-go/internal/corpus"
)

// customDocumentID is the reserved custom-filter key that matches a chunk's
// owning document rather than a metadata field.
const customDocumentID = "document_id"

// Filter narrows hybrid search results by chunk metadata. Filtering is a
// post-hoc predicate over candidates — both indexes score first, then the
// filter discards non-matching chunks, so it can never change the relative
// order of the chunks that pass.
//
// Zero values mean "no constraint": an empty category matches everything,
// TechnicalLevelMax of 0 disables the upper bound, and so on. Callers that
// want an exact technical level set Min and Max to the same value.
type Filter struct {
	// PrimaryCategory requires a case-insensitive category match.
	PrimaryCategory string `json:"primary_category,omitempty"`

	// TechnicalLevelMin is the inclusive lower bound on technical level.
	TechnicalLevelMin int `json:"technical_level_min,omitempty"`

	// TechnicalLevelMax is the inclusive upper bound on technical level.
	// Zero disables the bound.
	TechnicalLevelMax int `json:"technical_level_max,omitempty"`

	// Keywords requires a non-empty intersection with the chunk's keyword
	// set (case-insensitive).
	Keywords []string `json:"keywords,omitempty"`

	// Custom requires equality on arbitrary fields: the reserved key
	// "document_id" matches the owning document, every other key matches
	// the chunk's metadata extension map.
	Custom map[string]string `json:"custom,omitempty"`
}

// IsZero reports whether the filter imposes no constraints.
func (f Filter) IsZero() bool {
	return f.PrimaryCategory == "" &&
		f.TechnicalLevelMin == 0 && f.TechnicalLevelMax == 0 &&
		len(f.Keywords) == 0 && len(f.Custom) == 0
}

// Matches reports whether the chunk satisfies every filter predicate.
func (f Filter) Matches(c corpus.Chunk) bool {
	if f.PrimaryCategory != "" && !strings.EqualFold(f.PrimaryCategory, c.Metadata.PrimaryCategory) {
		return false
	}

	if f.TechnicalLevelMin > 0 && c.Metadata.TechnicalLevel < f.TechnicalLevelMin {
		return false
	}
	if f.TechnicalLevelMax > 0 && c.Metadata.TechnicalLevel > f.TechnicalLevelMax {
		return false
	}

	if len(f.Keywords) > 0 && !keywordIntersect(f.Keywords, c.Metadata.Keywords) {
		return false
	}

	for key, want := range f.Custom {
		if key == customDocumentID {
			if c.DocumentID != want {
				return false
			}
			continue
		}
		if c.Metadata.Extra[key] != want {
			return false
		}
	}

	return true
}

// keywordIntersect reports whether any requested keyword appears in the
// chunk's keyword set, ignoring case.
func keywordIntersect(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, k := range have {
		set[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range want {
		if _, ok := set[strings.ToLower(k)]; ok {
			return true
		}
	}
	return false
}
