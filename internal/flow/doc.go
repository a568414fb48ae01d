// Package flow computes dense optical flow between consecutive frames.
//
// A Computer pulls transformed frames, groups contiguous runs by source,
// and runs a Method over every pair of neighbours within a group. The
// fields of one source are collected into a Stack of shape
// (pairs, height, width, 2), where channel 0 is the horizontal and
// channel 1 the vertical displacement, such that I0(x) ≈ I1(x + u).
//
// The default Method is TV-L1 in the duality formulation of Zach, Pock
// and Bischof, following the numerical scheme of Sánchez, Meinhardt-Llopis
// and Facciolo (IPOL 2013) with an optional median filter after each warp.
//
// Memory: a Stack holds every field of one source until it is written, so
// peak use per file is pairs × height × width × 2 × 4 bytes plus two
// frames of lookahead.
package flow
