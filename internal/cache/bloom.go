package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// BloomFilter is a counting Bloom filter: each
// bucket is a small counter rather than a single bit, so a delete can
// decrement instead of forcing a full rebuild. Hashing uses a fast
// non-cryptographic 32-bit hash (FNV-1a) seeded twice for
// double-hashing; every insertion touches numHashes counters.
type BloomFilter struct {
	mu        sync.Mutex
	counters  []uint8
	numBits   uint32
	numHashes int
}

// NewBloomFilter sizes a counting Bloom filter for expectedItems at
// the given target false-positive rate, using the standard
// m = -n*ln(p)/(ln2)^2, k = (m/n)*ln2 formulas.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	k := int(math.Round((m / n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if m < 8 {
		m = 8
	}
	return &BloomFilter{
		counters:  make([]uint8, uint32(m)),
		numBits:   uint32(m),
		numHashes: k,
	}
}

func (b *BloomFilter) positions(item string) []uint32 {
	h1 := fnv.New32a()
	h1.Write([]byte(item))
	sum1 := h1.Sum32()

	h2 := fnv.New32a()
	h2.Write([]byte(item))
	h2.Write([]byte{0xff})
	sum2 := h2.Sum32()

	positions := make([]uint32, b.numHashes)
	for i := 0; i < b.numHashes; i++ {
		positions[i] = (sum1 + uint32(i)*sum2) % b.numBits
	}
	return positions
}

// Add inserts item, incrementing every touched counter (saturating at
// 255 rather than overflowing).
func (b *BloomFilter) Add(item string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions(item) {
		if b.counters[pos] < 255 {
			b.counters[pos]++
		}
	}
}

// Remove decrements every touched counter for item. Only call this
// for an item known to have been Added — decrementing an absent item
// corrupts the filter for everything sharing its buckets.
func (b *BloomFilter) Remove(item string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions(item) {
		if b.counters[pos] > 0 {
			b.counters[pos]--
		}
	}
}

// MightContain reports whether item could be present. False means
// definitely absent; true means probably present (subject to the
// configured false-positive rate).
func (b *BloomFilter) MightContain(item string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions(item) {
		if b.counters[pos] == 0 {
			return false
		}
	}
	return true
}

// Clear zeroes every counter; callers rebuild by re-Adding from the
// store, "on clear/rebuild, reload from the store".
func (b *BloomFilter) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.counters {
		b.counters[i] = 0
	}
}

// bloomSnapshot is the serializable form Marshal/Unmarshal round-trip,
// so a warm restart can reload the filter without rescanning the store.
type bloomSnapshot struct {
	Counters  []uint8
	NumBits   uint32
	NumHashes int
}

// Marshal serializes the filter to a binary blob for warm restart.
func (b *BloomFilter) Marshal() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf bytes.Buffer
	snap := bloomSnapshot{Counters: b.counters, NumBits: b.numBits, NumHashes: b.numHashes}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("cache: marshal bloom filter: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBloomFilter restores a filter previously produced by
// Marshal.
func UnmarshalBloomFilter(data []byte) (*BloomFilter, error) {
	var snap bloomSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("cache: unmarshal bloom filter: %w", err)
	}
	return &BloomFilter{counters: snap.Counters, numBits: snap.NumBits, numHashes: snap.NumHashes}, nil
}
