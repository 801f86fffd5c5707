package scan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// mask returns the low n bits set.
func mask(n uint8) uint64 {
	if n >= 64 {
		return math.MaxUint64
	}
	return 1<<n - 1
}

// signExtend treats the low bits of v as a two's-complement number.
func signExtend(v uint64, bits uint8) int64 {
	v &= mask(bits)
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^mask(bits)
	}
	return int64(v)
}

// Decode converts the decimal text of one raw sample to a signed value.
// Surrounding whitespace is ignored.
func (s ScanType) Decode(text string) (int64, error) {
	t := strings.TrimSpace(text)
	fail := func(err error) (int64, error) {
		if ne, ok := err.(*strconv.NumError); ok {
			err = ne.Err
		}
		return 0, &DecodeError{Text: t, Scan: s.String(), Err: err}
	}

	switch s.Conversion {
	case ConvFixSign8:
		n, err := strconv.ParseUint(t, 10, 8)
		if err != nil {
			return fail(err)
		}
		return int64(int8(uint8(n))), nil
	case ConvFixSign16:
		n, err := strconv.ParseUint(t, 10, 16)
		if err != nil {
			return fail(err)
		}
		return int64(int16(uint16(n))), nil
	case ConvFixSign32:
		n, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return fail(err)
		}
		return int64(int32(uint32(n))), nil
	case ConvFixSign64:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return fail(err)
		}
		return int64(n), nil
	case ConvFixSignWide:
		// Text is the storage-width pattern; only the low Bits carry the value.
		n, err := strconv.ParseUint(t, 10, int(s.StorageBits))
		if err != nil {
			return fail(err)
		}
		return signExtend(n, s.Bits), nil
	case ConvSignExtend:
		// Kernels usually print signed channels already sign-applied.
		if strings.HasPrefix(t, "-") {
			n, err := strconv.ParseInt(t, 10, int(s.Bits))
			if err != nil {
				return fail(err)
			}
			return n, nil
		}
		n, err := strconv.ParseUint(t, 10, int(s.StorageBits))
		if err != nil {
			return fail(err)
		}
		return signExtend(n, s.Bits), nil
	case ConvCentered:
		n, err := strconv.ParseUint(t, 10, int(s.StorageBits))
		if err != nil {
			return fail(err)
		}
		half := uint64(1) << (s.Bits - 1)
		if n >= half {
			return int64(n - half), nil
		}
		return -int64(half - n), nil
	default:
		return fail(fmt.Errorf("unknown conversion %v", s.Conversion))
	}
}

// Encode is the inverse of Decode: it renders v as the raw text a device
// would report for this descriptor.
func (s ScanType) Encode(v int64) (string, error) {
	var lo, hi int64
	if s.Bits >= 64 {
		lo, hi = math.MinInt64, math.MaxInt64
	} else {
		lo, hi = -(int64(1) << (s.Bits - 1)), int64(1)<<(s.Bits-1)-1
	}
	if v < lo || v > hi {
		return "", fmt.Errorf("encode %d as %s: %w", v, s, ErrOutOfRange)
	}

	var n uint64
	switch s.Conversion {
	case ConvCentered:
		n = uint64(v) + uint64(1)<<(s.Bits-1)
	default:
		n = uint64(v) & mask(s.Bits)
	}
	return strconv.FormatUint(n, 10), nil
}
