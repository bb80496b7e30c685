package faxitron

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

// echoQuery 模拟设备将 "!X..." 设置回显为 "?X..." 查询应答
func echoQuery(set []byte) []byte {
	out := append([]byte(nil), set...)
	out[0] = '?'
	return out
}

func TestExposureTimeRoundTrip(t *testing.T) {
	for deci := 1; deci <= 999; deci++ {
		sec := float64(deci) / 10
		enc, err := EncodeExposureTime(sec)
		require.NoError(t, err, "t=%v", sec)
		require.Len(t, enc, 6)

		got, err := DecodeExposureTime(echoQuery(enc))
		require.NoError(t, err)
		assert.Equal(t, math.Round(sec*10)/10, got)
	}

	for _, sec := range []float64{0.06, 0.16, 12.34, 30, 55.55, 99.86} {
		enc, err := EncodeExposureTime(sec)
		require.NoError(t, err)
		got, err := DecodeExposureTime(echoQuery(enc))
		require.NoError(t, err)
		assert.InDelta(t, math.Round(sec*10)/10, got, 1e-9, "t=%v", sec)
	}
}

func TestExposureTimeEncoding(t *testing.T) {
	enc, err := EncodeExposureTime(30)
	require.NoError(t, err)
	assert.Equal(t, "!T0300", string(enc))

	enc, err = EncodeExposureTime(0.05)
	require.NoError(t, err)
	assert.Equal(t, "!T0001", string(enc))

	enc, err = EncodeExposureTime(0.06)
	require.NoError(t, err)
	assert.Equal(t, "!T0001", string(enc))

	enc, err = EncodeExposureTime(99.9)
	require.NoError(t, err)
	assert.Equal(t, "!T0999", string(enc))
}

func TestExposureTimeOutOfRange(t *testing.T) {
	for _, sec := range []float64{0, -1, 0.01, 0.04, 0.0499, 99.96, 100, 150.0, math.NaN(), math.Inf(1)} {
		_, err := EncodeExposureTime(sec)
		var ve *wire.ValidationError
		require.ErrorAs(t, err, &ve, "t=%v", sec)
		assert.Equal(t, wire.OutOfRange, ve.Kind)
	}
}

func TestVoltageRoundTrip(t *testing.T) {
	for kv := 1; kv <= MaxVoltage; kv++ {
		enc, err := EncodeVoltage(kv)
		require.NoError(t, err)
		require.Len(t, enc, 4)
		got, err := DecodeVoltage(echoQuery(enc))
		require.NoError(t, err)
		assert.Equal(t, kv, got)
	}
	enc, _ := EncodeVoltage(5)
	assert.Equal(t, "!V05", string(enc))
}

func TestVoltageOutOfRange(t *testing.T) {
	for _, kv := range []int{0, -3, 36, 40} {
		_, err := EncodeVoltage(kv)
		assert.True(t, wire.IsValidationError(err), "kv=%d", kv)
	}
}

func TestDecodeNumericMalformed(t *testing.T) {
	for _, resp := range []string{"", "?T", "?T12", "?T12345", "?V1", "?TA000", "!T0300", "?V-1"} {
		_, errT := DecodeExposureTime([]byte(resp))
		_, errV := DecodeVoltage([]byte(resp))
		assert.True(t, errT != nil && errV != nil, "resp=%q", resp)
		assert.ErrorIs(t, errT, wire.ErrUnexpectedResponse)
	}
}

func TestModeCodec(t *testing.T) {
	enc, err := EncodeMode(ModeFrontPanel)
	require.NoError(t, err)
	assert.Equal(t, "!MF", string(enc))
	enc, err = EncodeMode(ModeRemote)
	require.NoError(t, err)
	assert.Equal(t, "!MR", string(enc))

	_, err = EncodeMode(ModeUnknown)
	var ve *wire.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, wire.InvalidEnum, ve.Kind)

	m, err := DecodeMode([]byte("?MR"))
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, m)
	m, err = DecodeMode([]byte("?MZ"))
	require.NoError(t, err)
	assert.Equal(t, ModeUnknown, m)
	_, err = DecodeMode([]byte("?M"))
	assert.ErrorIs(t, err, wire.ErrUnexpectedResponse)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("remote")
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, m)

	_, err = ParseMode("auto")
	assert.True(t, wire.IsValidationError(err))

	var mm Mode
	require.NoError(t, mm.UnmarshalText([]byte("front_panel")))
	assert.Equal(t, ModeFrontPanel, mm)
	b, _ := ModeRemote.MarshalText()
	assert.Equal(t, "remote", string(b))
}

func TestDecodeState(t *testing.T) {
	cases := map[string]State{
		"?SW": StateWarmingUp,
		"?SD": StateDoorOpen,
		"?SR": StateReady,
		"?SQ": StateUnknown,
	}
	for raw, want := range cases {
		st, err := DecodeState([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, want, st.State, raw)
		assert.Equal(t, raw, st.Raw)
	}
	_, err := DecodeState([]byte("?SRX"))
	assert.ErrorIs(t, err, wire.ErrUnexpectedResponse)
	assert.Equal(t, `unknown("?SQ")`, Status{Raw: "?SQ"}.String())
}
