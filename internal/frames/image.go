package frames

import "fmt"

// Image is a row-major, channel-interleaved array of float32 samples in
// the 0..255 range. Three-channel images are stored in BGR order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) Image {
	return Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// ImageFromBGR converts packed bgr24 bytes to an Image.
func ImageFromBGR(width, height int, data []byte) Image {
	im := NewImage(width, height, 3)
	for i, b := range data[:len(im.Pix)] {
		im.Pix[i] = float32(b)
	}
	return im
}

// At returns the sample at column x, row y and channel c.
func (im Image) At(x, y, c int) float32 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set stores a sample. Only use it on images you own.
func (im Image) Set(x, y, c int, v float32) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

// Shape returns the NumPy style shape: (h, w) for one channel,
// (h, w, c) otherwise.
func (im Image) Shape() []int {
	if im.Channels == 1 {
		return []int{im.Height, im.Width}
	}
	return []int{im.Height, im.Width, im.Channels}
}

func (im Image) String() string {
	return fmt.Sprintf("%dx%dx%d", im.Width, im.Height, im.Channels)
}

// Frame is one image tagged with the input it came from. Frames are values;
// stages replace them instead of mutating the pixel buffer.
type Frame struct {
	SourceID string
	Image    Image
}
