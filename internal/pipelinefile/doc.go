// Package pipelinefile reads and writes pipeline definitions outside of a
// session: HCL and YAML documents that can be applied to a state, and shell
// exports of the active pipeline.
package pipelinefile
