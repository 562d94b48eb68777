package media

const (
	MB int64 = 1024 * 1024

	DefaultMaxItems       = 5000
	DefaultChunkThreshold = 100 * MB
	DefaultChunkSize      = 50 * MB
	DefaultBatchSize      = 250
	DefaultBatchBytes     = 256 * MB
)

// Limits are the sizing rules of the import pipeline.
type Limits struct {
	// MaxItems is the ceiling on the number of videos in the library.
	MaxItems int
	// Files larger than ChunkThreshold are stored as ChunkSize segments.
	ChunkThreshold int64
	ChunkSize      int64
	// BatchSize records, or BatchBytes of blob payload, go into one
	// transaction, whichever comes first.
	BatchSize  int
	BatchBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxItems:       DefaultMaxItems,
		ChunkThreshold: DefaultChunkThreshold,
		ChunkSize:      DefaultChunkSize,
		BatchSize:      DefaultBatchSize,
		BatchBytes:     DefaultBatchBytes,
	}
}

// withDefaults replaces unset fields with their defaults.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxItems <= 0 {
		l.MaxItems = d.MaxItems
	}
	if l.ChunkThreshold <= 0 {
		l.ChunkThreshold = d.ChunkThreshold
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = d.ChunkSize
	}
	if l.BatchSize <= 0 {
		l.BatchSize = d.BatchSize
	}
	if l.BatchBytes <= 0 {
		l.BatchBytes = d.BatchBytes
	}
	return l
}
