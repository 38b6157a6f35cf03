// Package indexer binds discovery, chunking, embedding, and the vector
// store into the end-to-end Prime/Incremental/Watch orchestration of
// spec §4.8: a full walk-chunk-embed-upsert pass, targeted updates driven
// by filesystem change events, and a long-lived loop that dispatches
// debounced watch events into Incremental.
//
// Grounded on the teacher's internal/index/runner.go (Prime pipeline
// stages, checkpoint save/load cadence) and internal/index/coordinator.go
// (event dispatch per change kind, move reconciliation via content-hash
// equality), plus internal/async/status.go's progress-event shape
// (SPEC_FULL.md §13), generalized from the teacher's BM25+vector dual
// index to the single vectorstore.Store contract.
package indexer

import (
	"time"

	"github.com/knitli/codeweaver/internal/discovery"
)

// State is the indexer's per-session state machine (spec §4.8).
type State string

const (
	StateIdle      State = "idle"
	StatePriming   State = "priming"
	StateWatching  State = "watching"
	StateUpdating  State = "updating"
	StateDegraded  State = "degraded"
	StateFailed    State = "failed"
)

// Stage names an indexing phase for ProgressEvent, matching the
// teacher's async.IndexingStage vocabulary.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageUpserting Stage = "upserting"
)

// ProgressEvent is a structured progress notification the orchestrator
// emits so the surrounding transport (out of scope per spec §1) can
// render user feedback (spec §7: "files-seen, chunks-embedded,
// chunks-upserted, retries-pending").
type ProgressEvent struct {
	Collection     string
	State          State
	Stage          Stage
	FilesSeen      int
	ChunksEmbedded int
	ChunksUpserted int
	RetriesPending int
	Err            error
	Timestamp      time.Time
}

// ProgressFunc receives ProgressEvents. It must not block for long;
// callers that need buffering should do it themselves.
type ProgressFunc func(ProgressEvent)

// Options configures a Prime run. Incremental takes no Options and uses
// the defaults.
type Options struct {
	Discovery discovery.Options

	// CheckpointEvery triggers a checkpoint save after this many files
	// have completed during Prime (spec §4.8: "after each N files").
	CheckpointEvery int

	// RetryWorkerInterval configures how often the embedding pipeline's
	// background retry worker, which Prime runs for its duration, drains
	// the retry queue.
	RetryWorkerInterval time.Duration

	OnProgress ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 50
	}
	if o.RetryWorkerInterval <= 0 {
		o.RetryWorkerInterval = 30 * time.Second
	}
	if o.OnProgress == nil {
		o.OnProgress = func(ProgressEvent) {}
	}
	return o
}

// PrimeResult summarizes a completed or resumed Prime run.
type PrimeResult struct {
	FilesIndexed   int
	ChunksUpserted int
	Resumed        bool
	Duration       time.Duration
}
