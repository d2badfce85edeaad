package core

import (
	"fmt"
)

// SequenceValidator tracks source sequences per partition. Actions with a
// curve context validate on "curve:{id}", global actions on "global", and
// oracle prices on "price:{feed_key}" where gaps are tolerated.
// Not thread-safe: only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
	}
}

// ValidateSequence checks strict source-sequence ordering for a partition
// and advances the expectation on success.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, redelivery
			return nil
		}
		return fmt.Errorf("out-of-order action: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence > expected {
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	sv.expectedNextSeq[partition] = expected + 1
	return nil
}

// ValidatePriceSequence tracks oracle price sequences. Stale samples are
// reported for skipping and gaps are accepted: the feed is lossy by
// nature and every sample carries an absolute timestamp.
func (sv *SequenceValidator) ValidatePriceSequence(feedKey string, priceSequence int64) (stale bool, gap bool) {
	partition := fmt.Sprintf("price:%s", feedKey)
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return true, false
	}

	gap = priceSequence > expected
	sv.expectedNextSeq[partition] = priceSequence + 1
	return false, gap
}

// ExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) ExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets a partition's expectation, used during recovery.
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions copies the full partition map for snapshotting.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}
