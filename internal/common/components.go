package common

// Component names used to tag loggers and health metrics.
const (
	ComponentChainTracker     = "chain-tracker"
	ComponentSegmentBuilder   = "segment-builder"
	ComponentSegmentGroup     = "segment-group-builder"
	ComponentSegmentPipeline  = "segment-pipeline"
	ComponentStorageReader    = "storage-reader"
	ComponentFilteredStream   = "filtered-stream"
	ComponentStreamServer     = "stream-server"
	ComponentBlobStore        = "blob-store"
	ComponentMetaStore        = "meta-store"
	ComponentMetaTracker      = "metastore-tracker"
	ComponentMaintenance      = "db-maintenance"
)
