// Package logger wraps zap with the conveniences the forgedist binaries
// share:
//   - a global sugared logger with a console encoder on stderr, keeping
//     stdout free for machine-readable output,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and configuration,
//   - leveled convenience functions (Infof, WarnKV, etc.).
//
// Every service entry point takes a context and logs through it, so one
// run's lines share the binary name and any run-scoped fields.
package logger
