package state

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const randDomainV1 = "plinko/rand/v1"

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// DeriveRequestID derives the correlation token for a randomness request from
// the game id, the player address and the block height. Heights replace the
// wall clock so every replica derives the same id.
func DeriveRequestID(gameID uint64, player string, height int64) uint64 {
	var gameLE, heightLE [8]byte
	binary.LittleEndian.PutUint64(gameLE[:], gameID)
	binary.LittleEndian.PutUint64(heightLE[:], uint64(height))
	sum := keccak256(gameLE[:], []byte(player), heightLE[:])
	return binary.LittleEndian.Uint64(sum[:8])
}

// DeriveRandomBase folds the committed seed material and the request id into
// the base value every per-ball stream is derived from.
func DeriveRandomBase(force []byte, requestID uint64) uint64 {
	var reqLE [8]byte
	binary.LittleEndian.PutUint64(reqLE[:], requestID)
	sum := keccak256([]byte(randDomainV1), force, reqLE[:])
	return binary.LittleEndian.Uint64(sum[:8])
}

// DeriveBallRandoms expands the base value into one independent draw per ball
// by hashing base||index, keccak over little-endian words.
func DeriveBallRandoms(base uint64, count int) []uint64 {
	out := make([]uint64, 0, count)
	var baseLE, idxLE [8]byte
	binary.LittleEndian.PutUint64(baseLE[:], base)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint64(idxLE[:], uint64(i))
		sum := keccak256(baseLE[:], idxLE[:])
		out = append(out, binary.LittleEndian.Uint64(sum[:8]))
	}
	return out
}

// TotalWeight sums the bucket weights with an overflow guard.
func TotalWeight(buckets []Bucket) (uint64, error) {
	var total uint64
	for i, b := range buckets {
		if b.Weight == 0 {
			return 0, fmt.Errorf("bucket %d has zero weight", i)
		}
		if total > ^uint64(0)-b.Weight {
			return 0, fmt.Errorf("bucket weight sum overflow")
		}
		total += b.Weight
	}
	return total, nil
}

// PickBucket maps one random draw to a bucket index by cumulative-weight
// sampling: r = random mod totalWeight, then the first bucket whose cumulative
// sum exceeds r wins. Ties always resolve to the earliest bucket, which keeps
// the choice reproducible for audits.
func PickBucket(buckets []Bucket, random uint64) (uint8, error) {
	total, err := TotalWeight(buckets)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("bucket table is empty")
	}
	r := random % total
	var cum uint64
	for i, b := range buckets {
		cum += b.Weight
		if r < cum {
			return uint8(i), nil
		}
	}
	// Unreachable: r < total == final cumulative sum.
	return 0, fmt.Errorf("cumulative walk exhausted: r=%d total=%d", r, total)
}
