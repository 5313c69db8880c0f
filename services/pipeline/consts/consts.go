package consts

const (
	// TimestampLayout is the capture-time layout embedded in chunk
	// filenames and carried on transcript entries (dd-MM-yyyy_HH-mm-ss).
	TimestampLayout = "02-01-2006_15-04-05"

	// IngestTimestampLayout is the layout uploaders send in the ts form
	// field before it is normalized to TimestampLayout.
	IngestTimestampLayout = "2006-01-02 15:04:05"

	ChunkExt      = ".wav"
	FinalAudioExt = ".ogg"
	DocumentExt   = ".txt"

	ChunksArea = "chunks"
	FinalArea  = "final"

	MergeLogName = "merge.log"

	OpusBitrate = "64k"
)
