package importer

import "github.com/beenet-labs/graphlake/internal/model"

// errUnsupportedConfig implements §9 OQ1: windowed (ranged) fetch of a
// gzip stream is ambiguous (a byte window rarely lands on a gzip member
// boundary), so the orchestrator rejects the combination outright rather
// than guessing.
func errUnsupportedConfig(format string, args ...interface{}) *model.CoreError {
	return model.ErrInvariantViolation(format, args...)
}

func errOwnerMismatch(jobID, owner, token string) *model.CoreError {
	return model.ErrCheckpointError(nil, "importer: job %s is owned by %q, refusing to resume as %q without force", jobID, owner, token)
}
