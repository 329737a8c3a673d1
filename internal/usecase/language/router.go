// Package language routes query text into the working language: known
// domain terms and short inputs skip detection, working-language text gets
// per-token typo correction against the jewelry vocabulary, and foreign
// text is delegated to the translation service.
package language

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
	"github.com/xrash/smetrics"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
)

const (
	// gateCutoff is the fuzzy-closeness threshold at which a token counts
	// as a recognizable domain term and forces the working-language path.
	gateCutoff = 0.7
	// correctCutoff is the stricter threshold at which a token is replaced
	// by its canonical vocabulary form.
	correctCutoff = 0.8
	// shortInputLen: anything shorter skips detection entirely; statistical
	// detectors misclassify short domain tokens as foreign languages.
	shortInputLen = 5
)

// Translator converts foreign text into the working language. Best-effort:
// the router falls back to the input on any error.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Router decides per text input whether to normalize in place or translate.
type Router struct {
	vocab     domain.Vocabulary
	detector  lingua.LanguageDetector
	working   lingua.Language
	translate Translator
	logger    *zap.Logger
}

// NewRouter creates a language router. translate may be nil, in which case
// foreign text passes through unchanged.
func NewRouter(vocab domain.Vocabulary, working string, translate Translator, logger *zap.Logger) *Router {
	workingLang := languageForCode(working)

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(detectableLanguages(workingLang)...).
		Build()

	return &Router{
		vocab:     vocab,
		detector:  detector,
		working:   workingLang,
		translate: translate,
		logger:    logger,
	}
}

// Route returns the text normalized into the working language. Pure over
// the injected translator; never fails.
func (r *Router) Route(ctx context.Context, text string) string {
	if r.isWorkingLanguage(text) {
		return r.Normalize(text)
	}

	if r.translate == nil {
		return text
	}

	translated, err := r.translate.Translate(ctx, text)
	if err != nil {
		r.logger.Warn("Translation failed, keeping original text", zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues("translate").Inc()
		return text
	}
	// Trusted as already canonical; no local correction.
	return translated
}

// Normalize applies per-token typo correction: tokens fuzzy-matching the
// vocabulary at the correction cutoff are replaced by the canonical term,
// everything else passes through unchanged.
func (r *Router) Normalize(text string) string {
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		if canonical, ok := r.closestTerm(strings.ToLower(tok), correctCutoff); ok {
			tokens[i] = canonical
		}
	}
	return strings.Join(tokens, " ")
}

// isWorkingLanguage decides whether text should take the normalize path.
func (r *Router) isWorkingLanguage(text string) bool {
	if utf8.RuneCountInString(text) < shortInputLen {
		return true
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if _, ok := r.closestTerm(tok, gateCutoff); ok {
			return true
		}
	}

	detected, ok := r.detector.DetectLanguageOf(text)
	if !ok {
		// Detector gave up; default to the working language.
		return true
	}
	return detected == r.working
}

// closestTerm returns the vocabulary term closest to token when its
// edit-distance similarity reaches the cutoff.
func (r *Router) closestTerm(token string, cutoff float64) (string, bool) {
	best := ""
	bestSim := 0.0
	for _, term := range r.vocab.Terms() {
		if sim := similarity(token, term); sim > bestSim {
			best, bestSim = term, sim
		}
	}
	if bestSim >= cutoff {
		return best, true
	}
	return "", false
}

// similarity is 1 - levenshtein/maxlen, an edit-distance-based closeness
// in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return 1 - float64(dist)/float64(maxLen)
}

// languageForCode maps an ISO 639-1 code to a lingua language; unknown
// codes fall back to English.
func languageForCode(code string) lingua.Language {
	switch strings.ToLower(code) {
	case "hi":
		return lingua.Hindi
	case "ta":
		return lingua.Tamil
	case "te":
		return lingua.Telugu
	case "bn":
		return lingua.Bengali
	case "fr":
		return lingua.French
	case "es":
		return lingua.Spanish
	default:
		return lingua.English
	}
}

// detectableLanguages is the candidate set the detector chooses from: the
// working language plus the languages the catalog's users actually query in.
func detectableLanguages(working lingua.Language) []lingua.Language {
	langs := []lingua.Language{
		lingua.English, lingua.Hindi, lingua.Tamil, lingua.Telugu,
		lingua.Bengali, lingua.Gujarati,
		lingua.Marathi, lingua.Punjabi, lingua.Urdu,
		lingua.French, lingua.Spanish, lingua.German,
	}
	for _, l := range langs {
		if l == working {
			return langs
		}
	}
	return append(langs, working)
}
