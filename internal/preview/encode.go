package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

// bufferPool pools bytes.Buffer instances for JPEG encoding.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 512*1024 {
		return // don't pool oversized buffers
	}
	bufferPool.Put(buf)
}

// EncodeJPEG encodes img with quality clamped to [1, 100] and returns an
// owned copy of the bytes.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: clampInt(quality, 1, 100)}); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
