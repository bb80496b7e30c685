package dalsa

import (
	"encoding/binary"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// Frame 原始帧缓冲，长度恒为 FrameBytes，返回后只读
type Frame []byte

// Image 解码后的 16 位灰度网格，行优先
type Image struct {
	Rows int
	Cols int
	Pix  []uint16
}

// DecodeImage 将原始帧按小端 16 位采样重排为 FrameWidth x FrameHeight
// 显示反相（max - v）属于展示层，这里不做
func DecodeImage(f Frame) (*Image, error) {
	if len(f) != FrameBytes {
		return nil, wire.NewProtocolError(wire.KindFrameSizeMismatch, "decode_image",
			"frame %d bytes, want %d", len(f), FrameBytes)
	}
	img := &Image{Rows: FrameWidth, Cols: FrameHeight, Pix: make([]uint16, FrameWidth*FrameHeight)}
	for i := range img.Pix {
		img.Pix[i] = binary.LittleEndian.Uint16(f[2*i:])
	}
	return img, nil
}

// At 返回 (row, col) 处的采样
func (m *Image) At(row, col int) uint16 {
	return m.Pix[row*m.Cols+col]
}

// Row 返回一整行（共享底层数组）
func (m *Image) Row(row int) []uint16 {
	return m.Pix[row*m.Cols : (row+1)*m.Cols]
}

// MinMax 最小/最大采样值
func (m *Image) MinMax() (lo, hi uint16) {
	if len(m.Pix) == 0 {
		return 0, 0
	}
	lo, hi = m.Pix[0], m.Pix[0]
	for _, v := range m.Pix[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
