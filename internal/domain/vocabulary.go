package domain

import "strings"

// Axis groups material terms that are mutually exclusive on a product:
// a piece is not both gold and silver, but may be gold with diamonds.
type Axis string

const (
	// AxisMetal covers the base metal of a piece.
	AxisMetal Axis = "metal"
	// AxisStone covers the primary stone of a piece.
	AxisStone Axis = "stone"
)

// Vocabulary is the domain term table: the full jewelry vocabulary used for
// typo correction and language routing, plus the closed material subset
// (term -> axis) used for conflict detection between user intent and
// AI-generated captions.
type Vocabulary struct {
	terms     []string
	materials map[string]Axis
}

// DefaultVocabulary returns the jewelry vocabulary used across the engine.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		terms: []string{
			"kundan", "polki", "meenakari", "jhumka", "temple", "antique",
			"gold", "silver", "platinum", "diamond", "ruby", "emerald",
			"necklace", "earrings", "bangles", "bracelet", "pendant",
			"choker", "mangalsutra", "maangtikka", "nosepin", "ring", "studs",
		},
		materials: map[string]Axis{
			"gold":     AxisMetal,
			"silver":   AxisMetal,
			"platinum": AxisMetal,
			"diamond":  AxisStone,
			"ruby":     AxisStone,
			"emerald":  AxisStone,
		},
	}
}

// Terms returns the full vocabulary in canonical (lowercase) form.
func (v Vocabulary) Terms() []string { return v.terms }

// MaterialAxis reports the axis of a material term, if it is one.
func (v Vocabulary) MaterialAxis(term string) (Axis, bool) {
	a, ok := v.materials[strings.ToLower(term)]
	return a, ok
}

// Materials extracts the material terms mentioned in text, by substring
// containment over the lowercased input, in stable vocabulary order.
func (v Vocabulary) Materials(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, term := range v.terms {
		if _, ok := v.materials[term]; !ok {
			continue
		}
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

// Conflicts reports whether the user's materials contradict the AI caption's
// materials: a different term on the same axis counts as a contradiction,
// terms on different axes coexist.
func (v Vocabulary) Conflicts(userMaterials, aiMaterials []string) bool {
	for _, um := range userMaterials {
		ua, ok := v.materials[um]
		if !ok {
			continue
		}
		for _, am := range aiMaterials {
			if am == um {
				continue
			}
			if aa, ok := v.materials[am]; ok && aa == ua {
				return true
			}
		}
	}
	return false
}
