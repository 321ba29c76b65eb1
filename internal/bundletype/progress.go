package bundletype

// ProgressEvent represents a progress update during compaction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the file currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes copied so far.
	BytesDone uint64

	// BytesTotal is the total number of bytes to copy.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for compaction.
const (
	// StageScanning indicates the source index is being walked.
	StageScanning ProgressStage = iota

	// StageCopyingAttributes indicates bundle attributes are being copied.
	StageCopyingAttributes

	// StageCopyingFiles indicates file data and properties are being copied.
	StageCopyingFiles

	// StageCommitting indicates the destination container is being finalized.
	StageCommitting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageCopyingAttributes:
		return "copying attributes"
	case StageCopyingFiles:
		return "copying files"
	case StageCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
type ProgressFunc func(ProgressEvent)
