// Package scan parses IIO channel type descriptors ("scan elements") and
// decodes raw sysfs samples according to them.
//
// A descriptor looks like "le:s12/16X2>>4":
//
//	[endian:][sign]bits/storage[Xrepeat][>>shift]
//
// The conversion routine used by Decode is picked once, in Parse, and stored
// in the ScanType as a Conversion tag.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Endian is the byte order of buffered samples.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "be"
	}
	return "le"
}

// Signedness tells whether a channel carries two's-complement values.
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
)

func (s Signedness) String() string {
	if s == Signed {
		return "s"
	}
	return "u"
}

// Defaults applied when a descriptor omits a field.
const (
	DefaultEndian = LittleEndian
	DefaultSign   = Unsigned
	DefaultRepeat = 0
	DefaultShift  = 1
)

// Conversion selects the decode strategy for a ScanType.
type Conversion int

const (
	// ConvCentered maps an unsigned value onto a scale centered at
	// 2^(bits-1). Used for every unsigned descriptor.
	ConvCentered Conversion = iota
	// ConvSignExtend masks the value to bits and sign-extends it.
	ConvSignExtend
	// ConvFixSign8 .. ConvFixSign64 parse an unsigned value of the given
	// width and reinterpret it as the signed type of the same width.
	ConvFixSign8
	ConvFixSign16
	ConvFixSign32
	ConvFixSign64
	// ConvFixSignWide handles fix-sign descriptors with a non-native width.
	ConvFixSignWide
)

var conversionNames = map[Conversion]string{
	ConvCentered:    "centered",
	ConvSignExtend:  "sign_extend",
	ConvFixSign8:    "fix_sign8",
	ConvFixSign16:   "fix_sign16",
	ConvFixSign32:   "fix_sign32",
	ConvFixSign64:   "fix_sign64",
	ConvFixSignWide: "fix_sign_wide",
}

func (c Conversion) String() string {
	if n, ok := conversionNames[c]; ok {
		return n
	}
	return fmt.Sprintf("conversion(%d)", int(c))
}

// selectConversion is the dispatch table keyed on (fixSign, sign, bits).
func selectConversion(fixSign bool, sign Signedness, bits uint8) Conversion {
	if sign == Unsigned {
		return ConvCentered
	}
	if !fixSign {
		return ConvSignExtend
	}
	switch bits {
	case 8:
		return ConvFixSign8
	case 16:
		return ConvFixSign16
	case 32:
		return ConvFixSign32
	case 64:
		return ConvFixSign64
	default:
		return ConvFixSignWide
	}
}

// ScanType is the decoding recipe of one channel. It is immutable once
// returned by Parse.
type ScanType struct {
	Endian      Endian
	Sign        Signedness
	Bits        uint8
	StorageBits uint8
	Repeat      uint
	Shift       uint
	FixSign     bool
	Conversion  Conversion
}

var descriptorRe = regexp.MustCompile(`^(?:(be|le):)?([su])?(\d+)/(\d+)(?:X([^>]*))?(?:>>(.*))?$`)

// Parse parses a channel descriptor. fixSign enables the sign-fix workaround
// for devices that print signed samples as unsigned bit patterns.
func Parse(s string, fixSign bool) (ScanType, error) {
	text := strings.TrimSpace(s)
	m := descriptorRe.FindStringSubmatch(text)
	if m == nil {
		return ScanType{}, &DescriptorError{Text: s, Reason: "does not match [endian:][sign]bits/storage[Xrepeat][>>shift]"}
	}

	bits, err := strconv.ParseUint(m[3], 10, 8)
	if err != nil {
		return ScanType{}, &DescriptorError{Text: s, Reason: "bits: " + err.Error()}
	}
	storage, err := strconv.ParseUint(m[4], 10, 8)
	if err != nil {
		return ScanType{}, &DescriptorError{Text: s, Reason: "storage: " + err.Error()}
	}
	if bits < 1 || bits > 64 {
		return ScanType{}, &DescriptorError{Text: s, Reason: fmt.Sprintf("bits must be 1..64, got %d", bits)}
	}
	switch storage {
	case 8, 16, 32, 64:
	default:
		return ScanType{}, &DescriptorError{Text: s, Reason: fmt.Sprintf("storage must be 8, 16, 32 or 64, got %d", storage)}
	}
	if bits > storage {
		return ScanType{}, &DescriptorError{Text: s, Reason: fmt.Sprintf("bits (%d) exceed storage (%d)", bits, storage)}
	}

	st := ScanType{
		Endian:      DefaultEndian,
		Sign:        DefaultSign,
		Bits:        uint8(bits),
		StorageBits: uint8(storage),
		Repeat:      DefaultRepeat,
		Shift:       DefaultShift,
		FixSign:     fixSign,
	}
	if m[1] == "be" {
		st.Endian = BigEndian
	}
	if m[2] == "s" {
		st.Sign = Signed
	}
	if m[5] != "" {
		if n, err := strconv.ParseUint(m[5], 10, 8); err == nil {
			st.Repeat = uint(n)
		}
	}
	if m[6] != "" {
		if n, err := strconv.ParseUint(m[6], 10, 8); err == nil {
			st.Shift = uint(n)
		}
	}
	st.Conversion = selectConversion(fixSign, st.Sign, st.Bits)
	return st, nil
}

// ParseFile reads a descriptor file (e.g. scan_elements/in_accel_x_type)
// and parses its contents.
func ParseFile(path string, fixSign bool) (ScanType, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScanType{}, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	st, err := Parse(string(b), fixSign)
	if err != nil {
		return ScanType{}, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return st, nil
}

// String renders the descriptor in canonical form.
func (s ScanType) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s%d/%d", s.Endian, s.Sign, s.Bits, s.StorageBits)
	if s.Repeat > 0 {
		fmt.Fprintf(&b, "X%d", s.Repeat)
	}
	fmt.Fprintf(&b, ">>%d", s.Shift)
	return b.String()
}

func (s ScanType) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("descriptor", s.String()),
		slog.String("conversion", s.Conversion.String()),
		slog.Bool("fix_sign", s.FixSign),
	)
}
