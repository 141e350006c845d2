package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"society-ledger-backend/internal/models"
)

// Matching strategies, in priority order.
const (
	StrategyVPAExact  = "vpa-exact"
	StrategyNameExact = "name-exact"
	StrategyNameCI    = "name-ci"
	StrategySubstring = "substring"
	StrategyFuzzy     = "fuzzy"
	StrategyNoMatch   = "no-match"
	StrategyError     = "error"
)

// Confidence assigned per strategy. Fuzzy confidence is the similarity score
// itself, always in (0.75, 1).
const (
	confidenceVPAExact  = 0.99
	confidenceNameExact = 0.98
	confidenceNameCI    = 0.95
	confidenceSubstring = 0.85

	fuzzyThreshold = 0.75
)

// maxCandidates bounds the substring/fuzzy scan so the fallback path stays
// predictable on large societies.
const maxCandidates = 500

// MappingSource lists the active unit mappings to match against.
type MappingSource interface {
	ActiveMappings() ([]models.UnitMapping, error)
}

// Match is the outcome of a resolution attempt.
type Match struct {
	Mapping    *models.UnitMapping
	Confidence float64
	Strategy   string
}

// Resolver attributes an extracted counterparty to a unit mapping using
// staged matching: the cheap exact stages cover known payers, the substring
// and fuzzy fallbacks cover typos and spelling variants.
type Resolver struct {
	mappings MappingSource
	log      zerolog.Logger
}

func NewResolver(mappings MappingSource, log zerolog.Logger) *Resolver {
	return &Resolver{mappings: mappings, log: log}
}

// Resolve runs the staged match. A store failure returns strategy "error"
// with a non-nil error; the caller treats that as unresolved, not fatal.
// Ties within a stage break lexicographically by unit id.
func (r *Resolver) Resolve(counterpartyName, vpa string) (Match, error) {
	all, err := r.mappings.ActiveMappings()
	if err != nil {
		return Match{Strategy: StrategyError}, fmt.Errorf("load unit mappings: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].UnitID < all[j].UnitID })

	if vpa != "" {
		for i := range all {
			for _, alias := range all[i].VPAAliases {
				if strings.EqualFold(alias, vpa) {
					return Match{Mapping: &all[i], Confidence: confidenceVPAExact, Strategy: StrategyVPAExact}, nil
				}
			}
		}
	}

	if counterpartyName == "" {
		return Match{Strategy: StrategyNoMatch}, nil
	}

	for i := range all {
		for _, alias := range all[i].OwnerNames {
			if alias == counterpartyName {
				return Match{Mapping: &all[i], Confidence: confidenceNameExact, Strategy: StrategyNameExact}, nil
			}
		}
	}

	for i := range all {
		for _, alias := range all[i].OwnerNames {
			if strings.EqualFold(alias, counterpartyName) {
				return Match{Mapping: &all[i], Confidence: confidenceNameCI, Strategy: StrategyNameCI}, nil
			}
		}
	}

	// only the substring/fuzzy fallback scan is bounded; the exact stages
	// above always see every mapping
	fallback := all
	if len(fallback) > maxCandidates {
		fallback = fallback[:maxCandidates]
	}

	lowered := strings.ToLower(counterpartyName)
	for i := range fallback {
		for _, alias := range fallback[i].OwnerNames {
			la := strings.ToLower(alias)
			if strings.Contains(lowered, la) || strings.Contains(la, lowered) || tokenSubset(lowered, la) {
				return Match{Mapping: &fallback[i], Confidence: confidenceSubstring, Strategy: StrategySubstring}, nil
			}
		}
	}

	var (
		bestScore   float64
		bestMapping *models.UnitMapping
	)
	for i := range fallback {
		for _, alias := range fallback[i].OwnerNames {
			score := similarity(lowered, strings.ToLower(alias))
			if score > bestScore {
				bestScore = score
				bestMapping = &fallback[i]
			}
		}
	}
	if bestMapping != nil && bestScore > fuzzyThreshold {
		// keep fuzzy confidence below the case-insensitive-exact band
		if bestScore > confidenceNameCI {
			bestScore = confidenceNameCI
		}
		r.log.Debug().
			Str("name", counterpartyName).
			Str("unit", bestMapping.UnitID).
			Float64("score", bestScore).
			Msg("fuzzy matched payer")
		return Match{Mapping: bestMapping, Confidence: bestScore, Strategy: StrategyFuzzy}, nil
	}

	return Match{Strategy: StrategyNoMatch}, nil
}

// tokenSubset reports whether every token of the shorter name appears, in
// order, among the tokens of the longer one. Catches middle-name omissions
// like "kailash dhanwani" against "kailash mangaram dhanwani", which neither
// contiguous substring nor whole-string edit distance accepts.
func tokenSubset(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	if len(ta) == 0 {
		return false
	}
	i := 0
	for _, tok := range tb {
		if i < len(ta) && ta[i] == tok {
			i++
		}
	}
	return i == len(ta)
}

// similarity is normalized Levenshtein: 1 - distance/maxLen.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1 - float64(dist)/float64(maxLen)
}
