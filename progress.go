package bundle

import "github.com/meigma/bundle/internal/bundletype"

// Re-export progress types from internal/bundletype.
type (
	// ProgressEvent represents a progress update during compaction.
	ProgressEvent = bundletype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = bundletype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = bundletype.ProgressFunc
)

// Re-export progress stage constants.
const (
	StageScanning          = bundletype.StageScanning
	StageCopyingAttributes = bundletype.StageCopyingAttributes
	StageCopyingFiles      = bundletype.StageCopyingFiles
	StageCommitting        = bundletype.StageCommitting
)
