// Package pipeline is the composition root of a viflow run.
//
// It discovers the input files, selects the frame source variant and
// drains one serial, pull-based stream:
//
//	frames.Inputs → transform.Stage → flow.Computer → flowstore.Writer
//
// Per-file open failures are absorbed and reported; every other error
// aborts the run. Archives already written stay on disk.
package pipeline
