// Package query implements find_code (spec §4.9): normalize a query,
// embed it, run a hybrid search with overfetch, filter and rerank
// candidates, apply bounded intent-based semantic weighting, and
// assemble a token-budgeted Response.
//
// Grounded on the teacher's internal/search package: SearchOptions and
// the score-adjustment constants/helpers in options.go (test-file
// penalty, internal/cmd path boost), the Reranker interface and
// NoOpReranker fallback in reranker.go, and the Classifier/QueryType
// vocabulary in types.go — generalized from the teacher's BM25+vector
// engine to a single vectorstore.Store doing hybrid search internally,
// with RRF fusion supplied by vectorstore.FuseRRF instead of the
// teacher's bespoke weighted-sum fusion.
package query

import (
	"time"

	"github.com/knitli/codeweaver/internal/vectorstore"
)

// Intent is a coarse classification of a query's purpose, used to bias
// ranking via semantic weighting (spec §4.9 step 6).
type Intent string

const (
	IntentDefault  Intent = "default"
	IntentDebug    Intent = "debug"
	IntentDocument Intent = "document"
	IntentRefactor Intent = "refactor"

	// IntentUnderstand and IntentGeneric are the remaining two tags in the
	// spec's intent vocabulary (spec §ontology). Neither carries a
	// semanticWeight case below: "understand" and "generic" queries get
	// the neutral 1.0 multiplier, same as any intent this switch doesn't
	// recognize.
	IntentUnderstand Intent = "understand"
	IntentGeneric    Intent = "generic"
)

// semanticWeight returns the bounded (±20%) multiplier step 6 applies
// to a result's score, based on the query's intent and the chunk's kind.
func semanticWeight(intent Intent, kind string) float32 {
	const boost = 1.20
	const penalty = 0.85

	switch intent {
	case IntentDebug:
		if kind == "definition" || kind == "declaration" {
			return boost
		}
	case IntentDocument:
		if kind == "comment-block" {
			return boost
		}
		if kind == "definition" {
			return penalty
		}
	case IntentRefactor:
		if kind == "definition" {
			return boost
		}
	}
	return 1.0
}

// Options configures a find_code call (spec §6).
type Options struct {
	Limit          int
	Intent         Intent
	IncludeTests   bool
	Languages      []string
	PathFilter     []string
	TokenBudget    int
	OverfetchFactor float64
	RerankThreshold int
}

const (
	DefaultLimit           = 10
	DefaultOverfetchFactor = 3.0
	DefaultTokenBudget     = 4000
	DefaultRerankThreshold = 5
	minOverfetchFloor      = 20
)

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Intent == "" {
		o.Intent = IntentDefault
	}
	if o.OverfetchFactor <= 0 {
		o.OverfetchFactor = DefaultOverfetchFactor
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = DefaultTokenBudget
	}
	if o.RerankThreshold <= 0 {
		o.RerankThreshold = DefaultRerankThreshold
	}
	return o
}

func (o Options) overfetchLimit() int {
	k := int(float64(o.Limit) * o.OverfetchFactor)
	if k < minOverfetchFloor {
		k = minOverfetchFloor
	}
	return k
}

// FileDescriptor identifies the file a CodeMatch came from (spec §6).
type FileDescriptor struct {
	Path     string
	Language string
}

// ContentMatch is the matched span within a file (spec §6).
type ContentMatch struct {
	Text      string
	LineStart int
	LineEnd   int
	Kind      string
}

// CodeMatch is one ranked result in a Response (spec §6).
type CodeMatch struct {
	File    FileDescriptor
	Content ContentMatch
	Score   float64
}

// Response is find_code's return value (spec §6), stable and versioned.
type Response struct {
	Results          []CodeMatch
	Summary          string
	QueryIntent      string
	TotalMatches     int
	TotalResults     int
	TokenCount       int
	ExecutionTimeMS  float64
	SearchStrategy   []string
	LanguagesFound   []string
}

// candidate is a SearchResult carried alongside its working score
// through the filter/rerank/weight/sort stages.
type candidate struct {
	result vectorstore.SearchResult
	score  float64
}
