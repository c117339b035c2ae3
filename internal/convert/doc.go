// Package convert dispatches a staged file to the conversion backend.
//
// The Invoker looks up the (source, target) pair in the catalog, checks the
// staged file still exists, and calls the Backend under a per-call timeout
// and a global concurrency limit. Every result is an Outcome:
//
//   - Success(resultPath): the converted artifact was written to OutputDir
//   - Failure(ReasonUnsupported): no catalog entry; the backend is not called
//   - Failure(ReasonNotFound): the staged file is gone; the backend is not called
//   - Failure(ReasonBackend): backend error or timeout
//   - Failure(ReasonStorage): the artifact could not be written
//
// Outcome.Err carries backend detail for logs and must not be shown to users.
// The invoker never deletes its input; the caller owns staged file cleanup.
package convert
