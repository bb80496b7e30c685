// Package dalsa 实现 Dalsa 传感器读出控制器（Teensy）的命令协议
package dalsa

// 命令字
const (
	OpPing         byte = 0x00
	OpGetState     byte = 0x01
	OpGetFrame     byte = 0x02
	OpStartReadout byte = 0x03
	// OpFaxitron 透传 Faxitron ASCII 子协议
	OpFaxitron byte = 0x10
)

// PingSentinel ping 的固定应答字节
const PingSentinel byte = 0xA5

// 端点与接口
const (
	Interface       = 2
	ControlOutEP    = 5
	ControlInEP     = 6
	BulkInEP        = 7
	VendorID        = 0x16c0
	ProductID       = 0x0483
	StartReadoutLen = 1
)

// 传感器几何：1024 有效像素 + 暗行/暗列/无效列
const (
	SensorResolution = 1024
	DarkRows         = 4
	JunkColsPre      = 4
	DarkColsPre      = 4
	JunkColsPost     = 2
	DarkColsPost     = 8

	// FrameWidth 行数（numpy 形状第一维）
	FrameWidth = SensorResolution + 2*DarkRows
	// FrameHeight 列数
	FrameHeight = JunkColsPre + DarkColsPre + SensorResolution + DarkColsPost + JunkColsPost
	// FrameBytes 一帧原始字节数，16 位采样
	FrameBytes = FrameWidth * FrameHeight * 2
	// TotalRows 读出进度的分母
	TotalRows = FrameWidth
)
