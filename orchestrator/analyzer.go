// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"math"
	"strings"
)

// Complexity triage cut points. These are tunable constants, not
// load-bearing business logic: they implement a rough five-indicator
// triage, nothing deeper.
const (
	simpleCutoff   = 0.3
	moderateCutoff = 0.6

	indicatorCount = 5
	longTextTokens = 20
	tokensPerWord  = 1.3
)

// complexityMultiplier feeds the per-request cost estimate.
var complexityMultiplier = map[ComplexityClass]float64{
	ComplexitySimple:     1.0,
	ComplexityModerate:   1.5,
	ComplexityComplex:    2.5,
	ComplexityMultiModal: 3.0,
}

var comparisonKeywords = []string{
	"compare", "comparison", "versus", " vs ", "difference between",
	"better than", "worse than", "pros and cons",
}

var explanationKeywords = []string{
	"explain", "why", "how does", "how do", "describe", "walk through",
}

var complexConjunctions = []string{
	"and then", "as well as", "along with", "in addition to",
	"furthermore", "moreover", "whereas", "although", "however",
}

var mediaKeywords = []string{
	"image", "picture", "photo", "video", "audio", "diagram",
	"screenshot", "chart", "figure", "graph",
}

// Analyzer converts raw request text into an immutable
// RequestCharacteristics record. It has no side effects.
type Analyzer struct {
	decompositionThreshold float64
	baseCost               float64
	perTokenRate           float64
}

// NewAnalyzer creates an analyzer with the given cost model and
// decomposition threshold.
func NewAnalyzer(decompositionThreshold, baseCost, perTokenRate float64) *Analyzer {
	if decompositionThreshold <= 0 {
		decompositionThreshold = 0.7
	}
	return &Analyzer{
		decompositionThreshold: decompositionThreshold,
		baseCost:               baseCost,
		perTokenRate:           perTokenRate,
	}
}

// Analyze computes request characteristics from raw text. It fails with
// *InvalidInputError when the text is empty.
func (a *Analyzer) Analyze(text string) (RequestCharacteristics, error) {
	if strings.TrimSpace(text) == "" {
		return RequestCharacteristics{}, &InvalidInputError{Reason: "request text is empty"}
	}

	lower := strings.ToLower(text)
	words := strings.Fields(text)
	wordCount := len(words)

	indicators := 0
	if wordCount > longTextTokens {
		indicators++
	}
	if strings.Count(text, "?") > 1 {
		indicators++
	}
	if containsAny(lower, comparisonKeywords) || containsAny(lower, explanationKeywords) {
		indicators++
	}
	if containsAny(lower, complexConjunctions) {
		indicators++
	}
	if countPunctuation(text) > 2 {
		indicators++
	}

	score := float64(indicators) / indicatorCount

	class := ComplexityComplex
	switch {
	case score < simpleCutoff:
		class = ComplexitySimple
	case score < moderateCutoff:
		class = ComplexityModerate
	}

	hasMedia := containsAny(lower, mediaKeywords)
	if hasMedia {
		class = ComplexityMultiModal
	}

	estimatedTokens := int(math.Round(float64(wordCount) * tokensPerWord))

	cost := a.baseCost*complexityMultiplier[class] + float64(estimatedTokens)/1000.0*a.perTokenRate
	cost = math.Round(cost*1e6) / 1e6

	return RequestCharacteristics{
		Text:                  text,
		ComplexityClass:       class,
		ComplexityScore:       score,
		EstimatedTokens:       estimatedTokens,
		RequiresDecomposition: score > a.decompositionThreshold || class == ComplexityComplex,
		HasMediaReference:     hasMedia,
		EstimatedCost:         cost,
		Intent:                classifyIntent(lower),
	}, nil
}

// classifyIntent assigns a coarse intent label from keyword shape.
func classifyIntent(lower string) Intent {
	switch {
	case containsAny(lower, comparisonKeywords):
		return IntentComparative
	case containsAny(lower, explanationKeywords):
		return IntentExplanatory
	case strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "who") ||
		strings.HasPrefix(lower, "when") || strings.HasPrefix(lower, "where") ||
		strings.HasPrefix(lower, "which"):
		return IntentInformational
	default:
		return IntentGeneral
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func countPunctuation(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', ',', ';', ':':
			count++
		}
	}
	return count
}
