package ess

import (
	"encoding/binary"
	"math"
)

// Scale factors of the Environmental Sensing characteristics.
const (
	TemperatureScale = 100 // 0.01 °C
	PressureScale    = 10  // 0.1 hPa
)

// EncodeTemperature converts degrees Celsius into the 2-byte big-endian
// signed payload of the Temperature characteristic (0.01 °C units).
//
// The scaled value is rounded half-to-even. Values outside the int16 range
// wrap around (two's complement truncation), as a raw bit-shift encode does.
// NaN and infinities encode as zero.
func EncodeTemperature(celsius float32) [2]byte {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], uint16(wrap(float64(celsius)*TemperatureScale, 1<<16)))
	return out
}

// EncodePressure converts hPa into the 4-byte big-endian signed payload of
// the Pressure characteristic (0.1 hPa units). Rounding and overflow follow
// EncodeTemperature.
func EncodePressure(hPa float32) [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(wrap(float64(hPa)*PressureScale, 1<<32)))
	return out
}

// DecodeTemperature is the inverse of EncodeTemperature.
func DecodeTemperature(b []byte) (float32, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return float32(int16(binary.BigEndian.Uint16(b))) / TemperatureScale, true
}

// DecodePressure is the inverse of EncodePressure.
func DecodePressure(b []byte) (float32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return float32(int32(binary.BigEndian.Uint32(b))) / PressureScale, true
}

// wrap rounds v half-to-even and reduces it modulo m, returning a value
// whose low bits are the two's complement representation.
func wrap(v float64, m float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Mod(math.RoundToEven(v), m))
}
