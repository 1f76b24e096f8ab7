package domain

import "fmt"

const (
	BatchPrefix     = "batch:"
	AuditPrefix     = "audit:"
	DeviationPrefix = "deviation:"
)

// BatchKey builds the canonical key for batch storage
func BatchKey(id string) string {
	return fmt.Sprintf("%s%s", BatchPrefix, id)
}

// AuditKey orders entries per batch by sequence: audit:<batch>:<seq>:<id>
func AuditKey(batchID string, sequence int64, entryID string) string {
	return fmt.Sprintf("%s%s:%010d:%s", AuditPrefix, batchID, sequence, entryID)
}

func AuditBatchPrefix(batchID string) string {
	return fmt.Sprintf("%s%s:", AuditPrefix, batchID)
}

func AuditSequenceKey(batchID string) string {
	return fmt.Sprintf("seq:%s%s", AuditPrefix, batchID)
}

func DeviationKey(batchID, deviationID string) string {
	return fmt.Sprintf("%s%s:%s", DeviationPrefix, batchID, deviationID)
}

func DeviationBatchPrefix(batchID string) string {
	return fmt.Sprintf("%s%s:", DeviationPrefix, batchID)
}
