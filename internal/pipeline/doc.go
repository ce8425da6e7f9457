// Package pipeline is the authoritative in-memory model of a pipeline under
// construction: the stage/fork/input graph, the per-(input, stage) result
// cache, UI state, and undo/redo history.
//
// State only changes through Reduce, a synchronous function of (state,
// action). Maps and slices inside a State are never mutated after the State
// is returned; Reduce copies whatever it changes, so earlier States, and the
// undo snapshots built from them, stay valid and share unchanged maps.
package pipeline
