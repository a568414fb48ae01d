// Package npy reads and writes NumPy .npy arrays and .npz archives.
//
// Only the subset viflow needs is covered: C-ordered numeric arrays of
// the integer and floating point dtypes listed in ParseDType, streamed
// element-wise so a frame array never has to be loaded whole. Half
// precision (<f2) samples are converted with github.com/x448/float16 and
// archives are deflate-compressed ZIP files written with
// github.com/klauspost/compress/zip, which np.load reads directly.
package npy
