package store

// MergeEntries is the canonical merge policy for re-enqueuing a nation that
// already has a live queue entry: the earlier next check and the more urgent
// (lower) priority survive, the newer reason and the original insertion
// metadata are kept. The SQL upsert in Queue.Enqueue implements the same
// policy; in-memory queues must go through this function.
func MergeEntries(existing, incoming QueueEntry) QueueEntry {
	merged := existing
	merged.Reason = incoming.Reason
	if incoming.NextCheck.Before(existing.NextCheck) {
		merged.NextCheck = incoming.NextCheck
	}
	if incoming.Priority < existing.Priority {
		merged.Priority = incoming.Priority
	}
	return merged
}
