// Package release holds the promotion domain model: staged releases and
// their artifacts, the classified error taxonomy with its CLI exit codes,
// and the run record that tracks a promotion through its pipeline states.
package release
