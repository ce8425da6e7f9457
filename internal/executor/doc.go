// Package executor materializes stage outputs. Given a target stage it walks
// the chain of stages leading to it, resumes from the nearest stage whose
// output is already cached, and runs the remaining stages through the
// operation registry, producing one cache entry per enabled stage.
//
// Driver wraps the executor for interactive use: it runs one execution per
// cursor move in the background and uses a generation counter so only the
// most recent request's outcome reaches the pipeline state.
package executor
