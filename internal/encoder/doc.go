// Package encoder adapts the external ffmpeg/ffprobe binaries behind the
// invocation contract the job state machine consumes.
//
// Key responsibilities:
//   - Building the ffmpeg argument list from the enumerated output options.
//   - Spawning exactly one child per attempt in its own process group,
//     consuming the line-oriented progress stream incrementally, and
//     guaranteeing the child is reaped on every exit path, including
//     adapter-level cancellation.
//   - Classifying {exit status, signal, diagnostic output} into success,
//     recoverable, or fatal through one ordered rule table, so retry policy
//     upstream never reinterprets raw process output.
//   - Tracking live children in a registry owned by the daemon lifecycle so
//     shutdown can terminate them within a bounded grace period.
package encoder
