package debuglog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_SingleText(t *testing.T) {
	buf := []byte{
		0x03, 0x01, 0xEF, 0xFF, 0x08, 0x00, 0x00, 0x00,
		'u', 's', 'b', ' ', 'i', 'n', 'i', 't',
	}
	require.Len(t, buf, 16)

	recs, rest := Decode(buf)
	require.Len(t, recs, 1)
	assert.Zero(t, rest)
	r := recs[0]
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, uint8(3), r.Priority)
	assert.Equal(t, uint8(1), r.Thread)
	assert.Equal(t, uint16(0xFFEF), r.ID)
	assert.Equal(t, uint32(8), r.Param)
	assert.Equal(t, "usb init", r.Message)
}

func TestDecode_StructuredConsumesNoTrailer(t *testing.T) {
	buf := Encode(
		Record{Priority: 1, Thread: 2, ID: 0x0010, Param: 0xDEADBEEF},
		Record{Priority: 4, Thread: 0, ID: MaxStructuredID, Param: 3},
		Record{Priority: 2, Thread: 5, ID: 0xFFFF, Message: "hi"},
	)
	recs, rest := Decode(buf)
	require.Len(t, recs, 3)
	assert.Zero(t, rest)

	assert.Equal(t, KindStructured, recs[0].Kind)
	assert.Equal(t, uint32(0xDEADBEEF), recs[0].Param)
	assert.Empty(t, recs[0].Message)
	assert.Equal(t, KindStructured, recs[1].Kind, "0xFFEE is still structured")
	assert.Equal(t, KindText, recs[2].Kind)
	assert.Equal(t, "hi", recs[2].Message)
}

func TestDecode_TruncatedHeaderDropped(t *testing.T) {
	buf := Encode(Record{ID: 1, Param: 7})
	buf = append(buf, 0x01, 0x02, 0x03)

	recs, rest := Decode(buf)
	require.Len(t, recs, 1)
	assert.Equal(t, 3, rest)
}

func TestDecode_TextRunsPastBuffer(t *testing.T) {
	buf := []byte{0, 0, 0xF0, 0xFF, 0x20, 0, 0, 0, 'a', 'b', 'c'}
	recs, rest := Decode(buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "abc", recs[0].Message)
	assert.Zero(t, rest)
}

func TestDecode_InvalidUTF8Replaced(t *testing.T) {
	buf := []byte{0, 0, 0xF0, 0xFF, 4, 0, 0, 0, 'o', 0xFF, 'k', '!'}
	recs, _ := Decode(buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "o�k!", recs[0].Message)
}

func TestDecode_Empty(t *testing.T) {
	recs, rest := Decode(nil)
	assert.Empty(t, recs)
	assert.Zero(t, rest)
}

func TestRecordString(t *testing.T) {
	assert.Equal(t, "Structured: Priority: 1 Thread: 2 Id: 0x10 Param: 0xff",
		Record{Priority: 1, Thread: 2, ID: 0x10, Param: 0xFF}.String())
	assert.Equal(t, "Debug: Priority: 0 Thread: 0 Id: 0xffef Log: boot",
		Record{Kind: KindText, ID: 0xFFEF, Message: "boot"}.String())
}
