package scan

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestParse_SignedShiftZero(t *testing.T) {
	st, err := Parse("s8/32>>0", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Bits != 8 || st.StorageBits != 32 || st.Sign != Signed || st.Shift != 0 || st.Repeat != 0 {
		t.Fatalf("unexpected scan type: %+v", st)
	}
	if st.Endian != LittleEndian {
		t.Errorf("expected little endian default, got %v", st.Endian)
	}
	if st.Conversion != ConvSignExtend {
		t.Errorf("expected %v, got %v", ConvSignExtend, st.Conversion)
	}

	v, err := st.Decode("255")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != -1 {
		t.Fatalf("expected -1, got %d", v)
	}
}

func TestParse_UnsignedCentered(t *testing.T) {
	st, err := Parse("u6/16>>0", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Bits != 6 || st.StorageBits != 16 || st.Sign != Unsigned {
		t.Fatalf("unexpected scan type: %+v", st)
	}
	v, err := st.Decode("17")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != -15 {
		t.Fatalf("expected -15, got %d", v)
	}
	v, err = st.Decode("40")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
}

func TestParse_Defaults(t *testing.T) {
	st, err := Parse("le:12/16\n", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Sign != DefaultSign {
		t.Errorf("sign: expected %v, got %v", DefaultSign, st.Sign)
	}
	if st.Repeat != DefaultRepeat {
		t.Errorf("repeat: expected %d, got %d", DefaultRepeat, st.Repeat)
	}
	if st.Shift != DefaultShift {
		t.Errorf("shift: expected %d, got %d", DefaultShift, st.Shift)
	}
}

func TestParse_AllFields(t *testing.T) {
	st, err := Parse("be:s12/16X3>>4", true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := ScanType{
		Endian:      BigEndian,
		Sign:        Signed,
		Bits:        12,
		StorageBits: 16,
		Repeat:      3,
		Shift:       4,
		FixSign:     true,
		Conversion:  ConvFixSignWide,
	}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
	if got := st.String(); got != "be:s12/16X3>>4" {
		t.Errorf("String: got %q", got)
	}
}

func TestParse_UnparsableRepeatAndShiftFallBack(t *testing.T) {
	st, err := Parse("s8/8Xzz>>999", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Repeat != DefaultRepeat || st.Shift != DefaultShift {
		t.Fatalf("expected defaults, got repeat=%d shift=%d", st.Repeat, st.Shift)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		"",
		"s8",
		"/32",
		"s8/",
		"x8/32",
		"sa/32",
		"s8/b",
		"me:s8/32",
		"s0/8",
		"s65/64",
		"s8/12",
		"s16/8",
		"s8/300",
	}
	for _, in := range cases {
		_, err := Parse(in, false)
		if err == nil {
			t.Errorf("Parse(%q): expected error", in)
			continue
		}
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q): expected ErrMalformed, got %v", in, err)
		}
		var de *DescriptorError
		if !errors.As(err, &de) || de.Text != in {
			t.Errorf("Parse(%q): expected DescriptorError carrying input, got %v", in, err)
		}
	}
}

func TestConversionDispatch(t *testing.T) {
	cases := []struct {
		in      string
		fixSign bool
		want    Conversion
	}{
		{"u12/16", false, ConvCentered},
		{"u12/16", true, ConvCentered},
		{"s12/16", false, ConvSignExtend},
		{"s8/8", true, ConvFixSign8},
		{"s16/16", true, ConvFixSign16},
		{"s32/32", true, ConvFixSign32},
		{"s64/64", true, ConvFixSign64},
		{"s12/16", true, ConvFixSignWide},
	}
	for _, tc := range cases {
		st, err := Parse(tc.in, tc.fixSign)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if st.Conversion != tc.want {
			t.Errorf("Parse(%q, %v): expected %v, got %v", tc.in, tc.fixSign, tc.want, st.Conversion)
		}
	}
}

func TestDecode_SignedWidthExtremes(t *testing.T) {
	for _, fixSign := range []bool{false, true} {
		for _, w := range []uint8{8, 16, 32, 64} {
			desc := "s" + strconv.Itoa(int(w)) + "/" + strconv.Itoa(int(w))
			st, err := Parse(desc, fixSign)
			if err != nil {
				t.Fatalf("Parse(%q): %v", desc, err)
			}

			maxPos := strconv.FormatUint(mask(w)>>1, 10)
			v, err := st.Decode(maxPos)
			if err != nil {
				t.Fatalf("%s fix=%v: Decode(%s): %v", desc, fixSign, maxPos, err)
			}
			if v <= 0 {
				t.Errorf("%s fix=%v: max positive decoded to %d", desc, fixSign, v)
			}

			allOnes := strconv.FormatUint(mask(w), 10)
			v, err = st.Decode(allOnes)
			if err != nil {
				t.Fatalf("%s fix=%v: Decode(%s): %v", desc, fixSign, allOnes, err)
			}
			if v != -1 {
				t.Errorf("%s fix=%v: all ones decoded to %d, want -1", desc, fixSign, v)
			}
		}
	}
}

func TestDecode_OddWidthSignExtension(t *testing.T) {
	st, err := Parse("s12/16", true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cases := map[string]int64{
		"0":    0,
		"2047": 2047,
		"2048": -2048,
		"4095": -1,
		"4000": -96,
		// Storage-width patterns as printed by fix-sign devices.
		"65535": -1,
		"63488": -2048,
		"65440": -96,
	}
	for in, want := range cases {
		got, err := st.Decode(in)
		if err != nil {
			t.Fatalf("Decode(%s): %v", in, err)
		}
		if got != want {
			t.Errorf("Decode(%s): expected %d, got %d", in, want, got)
		}
	}

	if _, err := st.Decode("65536"); !errors.Is(err, ErrNumberFormat) {
		t.Errorf("expected ErrNumberFormat for value wider than storage, got %v", err)
	}
}

func TestDecode_NegativeTextForSignedChannel(t *testing.T) {
	st, err := Parse("le:s12/16>>4", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, err := st.Decode("-812\n")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != -812 {
		t.Fatalf("expected -812, got %d", v)
	}
}

func TestDecode_Idempotent(t *testing.T) {
	for _, desc := range []string{"s8/32>>0", "u6/16", "s12/16", "s64/64"} {
		st, err := Parse(desc, false)
		if err != nil {
			t.Fatalf("Parse(%q): %v", desc, err)
		}
		a, errA := st.Decode("37")
		b, errB := st.Decode("37")
		if errA != nil || errB != nil {
			t.Fatalf("%s: decode errors %v / %v", desc, errA, errB)
		}
		if a != b {
			t.Errorf("%s: decode not idempotent: %d != %d", desc, a, b)
		}
	}
}

func TestDecode_InvalidText(t *testing.T) {
	cases := []struct {
		desc    string
		fixSign bool
		in      string
	}{
		{"s8/32", false, "abc"},
		{"s8/32", false, ""},
		{"u6/16", false, "-3"},
		{"u6/16", false, "70000"},
		{"s8/8", true, "-1"},
		{"s8/8", true, "256"},
		{"s16/16", true, "1.5"},
	}
	for _, tc := range cases {
		st, err := Parse(tc.desc, tc.fixSign)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.desc, err)
		}
		_, err = st.Decode(tc.in)
		if !errors.Is(err, ErrNumberFormat) {
			t.Errorf("%s Decode(%q): expected ErrNumberFormat, got %v", tc.desc, tc.in, err)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s Decode(%q): expected *DecodeError, got %T", tc.desc, tc.in, err)
		}
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	descs := []struct {
		desc    string
		fixSign bool
	}{
		{"s8/32>>0", false},
		{"u6/16>>0", false},
		{"s12/16", true},
		{"s16/16", true},
		{"u1/8", false},
		{"s1/8", false},
	}
	for _, d := range descs {
		st, err := Parse(d.desc, d.fixSign)
		if err != nil {
			t.Fatalf("Parse(%q): %v", d.desc, err)
		}
		lo := -(int64(1) << (st.Bits - 1))
		hi := int64(1)<<(st.Bits-1) - 1
		for v := lo; v <= hi; v++ {
			text, err := st.Encode(v)
			if err != nil {
				t.Fatalf("%s Encode(%d): %v", d.desc, v, err)
			}
			got, err := st.Decode(text)
			if err != nil {
				t.Fatalf("%s Decode(%q): %v", d.desc, text, err)
			}
			if got != v {
				t.Fatalf("%s: round trip %d -> %q -> %d", d.desc, v, text, got)
			}
		}
	}
}

func TestEncodeDecode_RoundTrip64(t *testing.T) {
	for _, desc := range []string{"s64/64", "u64/64"} {
		st, err := Parse(desc, false)
		if err != nil {
			t.Fatalf("Parse(%q): %v", desc, err)
		}
		for _, v := range []int64{math.MinInt64, -1, 0, 1, math.MaxInt64} {
			text, err := st.Encode(v)
			if err != nil {
				t.Fatalf("%s Encode(%d): %v", desc, v, err)
			}
			got, err := st.Decode(text)
			if err != nil {
				t.Fatalf("%s Decode(%q): %v", desc, text, err)
			}
			if got != v {
				t.Errorf("%s: round trip %d -> %q -> %d", desc, v, text, got)
			}
		}
	}
}

func TestEncode_OutOfRange(t *testing.T) {
	st, err := Parse("s8/16", false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, v := range []int64{128, -129} {
		if _, err := st.Encode(v); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Encode(%d): expected ErrOutOfRange, got %v", v, err)
		}
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in_accel_x_type")
	if err := os.WriteFile(path, []byte("le:s12/16>>4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := ParseFile(path, false)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if st.Bits != 12 || st.Shift != 4 {
		t.Fatalf("unexpected scan type: %+v", st)
	}

	if _, err := ParseFile(filepath.Join(dir, "missing"), false); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad_type")
	if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ParseFile(bad, false); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
