package utils

import (
	"fmt"
	"sort"
)

// PartitionMap assigns contiguous index ranges [0, MaxIndex) to
// ParallelDegree buckets. Buckets are ranks, indices are global patches.
type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// NewPartitionMapFromStarts builds a map from the first index of every
// bucket. starts must begin with 0 and be strictly increasing.
func NewPartitionMapFromStarts(starts []int, maxIndex int) (pm *PartitionMap, err error) {
	var (
		np = len(starts)
	)
	if np == 0 || starts[0] != 0 {
		err = fmt.Errorf("partition starts must begin at 0: %v", starts)
		return
	}
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: np,
		Partitions:     make([][2]int, np),
	}
	for n := 0; n < np; n++ {
		end := maxIndex
		if n+1 < np {
			end = starts[n+1]
		}
		if end <= starts[n] {
			err = fmt.Errorf("partition %d is empty: [%d,%d)", n, starts[n], end)
			return nil, err
		}
		pm.Partitions[n] = [2]int{starts[n], end}
	}
	return
}

// GetBucket returns the bucket holding index kDim and its range, bucketNum
// is -1 when kDim is out of range
func (pm *PartitionMap) GetBucket(kDim int) (bucketNum, min, max int) {
	if kDim < 0 || kDim >= pm.MaxIndex {
		return -1, 0, 0
	}
	bucketNum = sort.Search(pm.ParallelDegree, func(n int) bool {
		return pm.Partitions[n][1] > kDim
	})
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetLocalK(baseK int) (k, Kmax, bn int) {
	var (
		kmin, kmax int
	)
	bn, kmin, kmax = pm.GetBucket(baseK)
	Kmax = kmax - kmin
	k = baseK - kmin
	return
}

func (pm *PartitionMap) GetGlobalK(kLocal, bn int) (kGlobal int) {
	if bn == -1 {
		kGlobal = kLocal
		return
	}
	var (
		kMin = pm.Partitions[bn][0]
	)
	kGlobal = kMin + kLocal
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	if bn == -1 {
		kMax = pm.MaxIndex
		return
	}
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	kMax = k2 - k1
	return
}

// Split1D gives bucket n the range [n*MaxIndex/P, (n+1)*MaxIndex/P), so
// any two ranks computing the map agree without communicating
func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	bucket[0] = threadNum * pm.MaxIndex / pm.ParallelDegree
	bucket[1] = (threadNum + 1) * pm.MaxIndex / pm.ParallelDegree
	return
}

// Starts returns the first index of every bucket
func (pm *PartitionMap) Starts() (starts []int) {
	starts = make([]int, pm.ParallelDegree)
	for n, p := range pm.Partitions {
		starts[n] = p[0]
	}
	return
}

// Equal reports whether both maps assign every index to the same bucket
func (pm *PartitionMap) Equal(other *PartitionMap) bool {
	if other == nil || pm.MaxIndex != other.MaxIndex ||
		pm.ParallelDegree != other.ParallelDegree {
		return false
	}
	for n := range pm.Partitions {
		if pm.Partitions[n] != other.Partitions[n] {
			return false
		}
	}
	return true
}
