// Package assign implements deterministic hash-based bucketing of
// (subject, config) pairs into variants.
//
// The bucket is a pure function of (salt, configKey, subjectID): identical
// across processes and time, so any instance serves the same variant to the
// same subject without coordination.
package assign

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// BucketCount is the size of the bucket space in basis points, giving 0.01%
// granularity for rollout and weight control.
const BucketCount = flag.WeightTotal

// Bucket computes the deterministic basis-point bucket for a subject under a
// config. Murmur3 is used for its distribution quality and speed; the salt
// decorrelates bucketing across configs so a subject lucky in one experiment
// is not systematically lucky in the next.
func Bucket(salt, configKey, subjectID string) int {
	hashKey := fmt.Sprintf("%s:%s:%s", salt, configKey, subjectID)
	return int(murmur3.Sum32([]byte(hashKey)) % BucketCount)
}

// Result describes where a subject's bucket landed.
type Result struct {
	// VariantKey is set when Assigned is true.
	VariantKey string

	// Bucket is the deterministic basis-point bucket in [0, BucketCount).
	Bucket int

	// Holdout is true when the bucket fell in the reserved top slice.
	Holdout bool

	// Assigned is true when a variant boundary covered the bucket. False
	// with Holdout false means the weights under-cover the space and the
	// bucket fell in the unassigned remainder.
	Assigned bool
}

// Assign buckets the subject and selects a variant by cumulative weight
// boundaries computed in declaration order.
//
// Boundaries are monotonic cumulative sums, never re-randomized per update:
// changing the weight of variants other than the one a subject falls into
// cannot reassign that subject as long as its bucket still lies within its
// variant's (possibly shifted) boundary.
//
// holdoutBps reserves the top slice of the bucket space for a permanent
// control group, removed before variant boundaries are considered.
func Assign(subjectID, configKey, salt string, variants []flag.Variant, holdoutBps int) Result {
	bucket := Bucket(salt, configKey, subjectID)
	return AssignBucket(bucket, variants, holdoutBps)
}

// AssignBucket is Assign for a pre-computed bucket. The coordinator uses it
// to share a single hash draw between the rollout gate and variant
// selection.
func AssignBucket(bucket int, variants []flag.Variant, holdoutBps int) Result {
	if holdoutBps > 0 && bucket >= BucketCount-holdoutBps {
		return Result{Bucket: bucket, Holdout: true}
	}

	boundary := 0
	for _, v := range variants {
		boundary += v.Weight
		if bucket < boundary {
			return Result{VariantKey: v.Key, Bucket: bucket, Assigned: true}
		}
	}

	// Weights under-cover the range: the remainder maps to no assignment
	// rather than an error.
	return Result{Bucket: bucket}
}
