package zcore_test

import (
	"testing"

	"github.com/davetcode/goz/zcore"
)

func minimalHeader(version uint8) []uint8 {
	b := make([]uint8, 64)
	b[0x00] = version
	b[0x02] = 0x00
	b[0x03] = 0x07 // release number 7
	b[0x06] = 0x00
	b[0x07] = 0x40 // first instruction at 0x40
	b[0x1a] = 0x00
	b[0x1b] = 0x10 // file length field = 16 (pre-division)
	copy(b[0x12:0x18], []byte("260730"))
	return b
}

func TestLoadCoreParsesHeaderFields(t *testing.T) {
	bytes := minimalHeader(3)
	core := zcore.LoadCore(bytes)

	if core.Version != 3 {
		t.Errorf("expected version 3, got %d", core.Version)
	}
	if core.ReleaseNumber != 7 {
		t.Errorf("expected release number 7, got %d", core.ReleaseNumber)
	}
	if core.FirstInstruction != 0x40 {
		t.Errorf("expected first instruction 0x40, got 0x%x", core.FirstInstruction)
	}
	if string(core.SerialCode) != "260730" {
		t.Errorf("expected serial code 260730, got %q", core.SerialCode)
	}
}

func TestFileLengthAppliesVersionMultiplier(t *testing.T) {
	cases := []struct {
		version uint8
		want    uint16
	}{
		{3, 16 * 2},
		{5, 16 * 4},
		{8, 16 * 8},
	}
	for _, c := range cases {
		bytes := minimalHeader(c.version)
		core := zcore.LoadCore(bytes)
		if got := core.FileLength(); got != c.want {
			t.Errorf("version %d: expected file length %d, got %d", c.version, c.want, got)
		}
	}
}

func TestReadWriteHalfWord(t *testing.T) {
	bytes := append(minimalHeader(3), 0, 0) // room for the halfword at 0x40
	core := zcore.LoadCore(bytes)

	core.WriteHalfWord(0x40, 0xBEEF)
	if got := core.ReadHalfWord(0x40); got != 0xBEEF {
		t.Errorf("expected 0xBEEF, got 0x%x", got)
	}
}

func TestStaticBaseMatchesHeaderField(t *testing.T) {
	bytes := minimalHeader(3)
	bytes[0x0e] = 0x01
	bytes[0x0f] = 0x00
	core := zcore.LoadCore(bytes)

	if core.StaticBase() != 0x0100 {
		t.Errorf("expected static base 0x0100, got 0x%x", core.StaticBase())
	}
}
