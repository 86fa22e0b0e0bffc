// Package promoter drives a staged release through verification,
// signing, manifest building and publication into production,
// finishing with an atomic channel-pointer cutover. Every step is
// idempotent: re-running a finished promotion writes nothing, and an
// interrupted run resumes where it stopped.
package promoter
