package storage

// PebbleConfig holds the configuration for the Pebble KV store
type PebbleConfig struct {
	// Path is the data directory; ignored when InMemory is set.
	Path     string
	InMemory bool

	CacheSize             int64
	MemTableSize          int
	MaxOpenFiles          int
	BlockSize             int
	L0CompactionThreshold int
	L0StopWritesThreshold int
	CompressionEnabled    bool
	EnableBloomFilter     bool
	BloomFilterBitsPerKey int
}

// DefaultPebbleConfig creates a default configuration for an on-disk store
func DefaultPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:                  path,
		CacheSize:             64 << 20,
		MemTableSize:          16 << 20,
		MaxOpenFiles:          1000,
		BlockSize:             32 << 10,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
		CompressionEnabled:    true,
		EnableBloomFilter:     true,
		BloomFilterBitsPerKey: 10,
	}
}

// InMemoryPebbleConfig creates a configuration backed by an in-memory
// filesystem, used for emulated partitions and tests
func InMemoryPebbleConfig() *PebbleConfig {
	return &PebbleConfig{
		InMemory:              true,
		CacheSize:             8 << 20,
		MemTableSize:          4 << 20,
		MaxOpenFiles:          100,
		BlockSize:             4 << 10,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 8,
		CompressionEnabled:    false,
		EnableBloomFilter:     false,
	}
}
