// Package frames owns the input side of the flow pipeline.
//
// Responsibilities: opening one input unit (a video file decoded by ffmpeg
// or a .npy frame array), temporal resampling of video to the configured
// rate, and concatenating the per-file sequences into one pull-based
// stream of Frames tagged with their source path.
// Key types: Image, Frame, Source, OpenError.
//
// Every Source is forward-only and not restartable. Next returns io.EOF
// once the sequence is exhausted; Close releases the decoder and may be
// called any number of times.
package frames
