// Package similarity groups near-duplicate observations so repeated
// work on the same topic does not crowd a digest or search response.
package similarity

import (
	"path"
	"strings"

	"github.com/cookiesen77-rgb/claude-memory/pkg/models"
)

// ClusterObservations groups similar observations and returns one
// representative per cluster. Input order is preference order; callers
// pass newest-first so the freshest record represents its cluster.
func ClusterObservations(observations []*models.Observation, similarityThreshold float64) []*models.Observation {
	if len(observations) <= 1 {
		return observations
	}

	termSets := make([]map[string]bool, len(observations))
	for i, obs := range observations {
		termSets[i] = ExtractObservationTerms(obs)
	}

	clustered := make([]bool, len(observations))
	result := make([]*models.Observation, 0, len(observations))

	for i := 0; i < len(observations); i++ {
		if clustered[i] {
			continue
		}

		result = append(result, observations[i])
		clustered[i] = true

		for j := i + 1; j < len(observations); j++ {
			if clustered[j] {
				continue
			}
			if JaccardSimilarity(termSets[i], termSets[j]) >= similarityThreshold {
				clustered[j] = true
			}
		}
	}

	return result
}

// IsSimilarToAny reports whether an observation overlaps any of the
// existing ones beyond the threshold.
func IsSimilarToAny(newObs *models.Observation, existing []*models.Observation, similarityThreshold float64) bool {
	if len(existing) == 0 {
		return false
	}

	newTerms := ExtractObservationTerms(newObs)
	if len(newTerms) == 0 {
		return false
	}

	for _, obs := range existing {
		if JaccardSimilarity(newTerms, ExtractObservationTerms(obs)) >= similarityThreshold {
			return true
		}
	}

	return false
}

// ExtractObservationTerms builds the comparison term set for an
// observation: title and narrative words, fact words, and the base
// names of every file it touched.
func ExtractObservationTerms(obs *models.Observation) map[string]bool {
	terms := make(map[string]bool)

	addTerms(terms, obs.Title.String)
	addTerms(terms, obs.Narrative.String)
	for _, fact := range obs.Facts {
		addTerms(terms, fact)
	}

	for _, file := range obs.FilesRead {
		addFileTerm(terms, file)
	}
	for _, file := range obs.FilesModified {
		addFileTerm(terms, file)
	}

	return terms
}

// addFileTerm records the lowercased base name; the directory rarely
// carries signal and often differs across checkouts.
func addFileTerm(terms map[string]bool, file string) {
	if file == "" {
		return
	}
	terms[strings.ToLower(path.Base(file))] = true
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
}

// addTerms tokenizes text and keeps words of three or more characters
// that are not stop words.
func addTerms(terms map[string]bool, text string) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms[word] = true
		}
	}
}

// JaccardSimilarity is intersection over union of two term sets.
// Two empty sets count as identical.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	return float64(intersection) / float64(union)
}
