// Package preflight provides readiness checks for the directories, external
// programs, and remote destination imagepipe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check so a
//     misconfigured host is visible before the first batch arrives.
//   - The status endpoint (and "imagepipe status") reports the same results
//     alongside dependency availability.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
