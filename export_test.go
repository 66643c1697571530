package raft

// NewTestEntryBatch constructs a reference-counted entryBatch with n
// outstanding references, for use by external tests exercising the
// ownership-transfer invariant (Design Notes §9) that AppendBatch/
// TruncateSuffix/TruncatePrefix honor. entryBatch itself stays unexported;
// this file only compiles for tests, so the production API surface is
// unaffected.
func NewTestEntryBatch(n int) *entryBatch {
	return newEntryBatch(n)
}
