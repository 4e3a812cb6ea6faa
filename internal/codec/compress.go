package codec

import (
	"github.com/klauspost/compress/zstd"
)

// MaxBodySize bounds a decompressed body.
const MaxBodySize = 1 << 20

var (
	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error
	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize), zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(body []byte) []byte {
	return zenc.EncodeAll(body, make([]byte, 0, len(body)/2))
}

func decompress(body []byte) ([]byte, error) {
	return zdec.DecodeAll(body, nil)
}
