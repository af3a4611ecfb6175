package agent

// SelectInput carries everything the selector may look at.
type SelectInput struct {
	// Pinned is the kind stored on the session by an earlier handoff.
	Pinned Kind
	// ConsoleMetadata holds the metadata of each attached console, in order.
	ConsoleMetadata []map[string]any
	Available       Availability
}

// Select picks the active agent kind. First match wins:
//  1. a pinned kind from an earlier handoff
//  2. exactly one attached console whose metadata names a backend type
//  3. a workspace with only one backend type
//  4. triage
func Select(in SelectInput) Kind {
	if in.Pinned.Valid() {
		return in.Pinned
	}

	if len(in.ConsoleMetadata) == 1 {
		if b, ok := BackendFromMetadata(in.ConsoleMetadata[0]); ok {
			return b.Specialist()
		}
	}

	switch {
	case in.Available.Mongo && !in.Available.BigQuery:
		return KindMongo
	case in.Available.BigQuery && !in.Available.Mongo:
		return KindBigQuery
	}

	return KindTriage
}

// BackendFromMetadata reads a backend type from console metadata, checking
// "type" before "databaseType".
func BackendFromMetadata(meta map[string]any) (BackendType, bool) {
	for _, key := range []string{"type", "databaseType"} {
		s, ok := meta[key].(string)
		if !ok {
			continue
		}
		if b, ok := ParseBackendType(s); ok {
			return b, true
		}
	}
	return "", false
}
