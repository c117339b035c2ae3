// Package stage keeps uploaded documents on disk between upload and
// conversion.
//
// Every staged file lives at
//
//	<staging dir>/<session slug>/<uuid>_<sanitized filename>
//
// so concurrent uploads of the same filename, by the same or different users,
// never share a path. Discard and Remove are idempotent: a missing file counts
// as removed. Sweep reclaims files left behind by a restart.
package stage
