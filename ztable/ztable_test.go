package ztable_test

import (
	"testing"

	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/ztable"
)

func newCoreWithMemory(size int) *zcore.Core {
	bytes := make([]uint8, size)
	bytes[0] = 3
	core := zcore.LoadCore(bytes)
	return &core
}

func TestPrintTableWrapsRowsAtWidth(t *testing.T) {
	core := newCoreWithMemory(128)
	// numBytes=6, rows of width 3: "abc\ndef"
	core.WriteByte(64, 6)
	for i, b := range []uint8{'a', 'b', 'c', 'd', 'e', 'f'} {
		core.WriteByte(uint32(65+i), b)
	}

	got := ztable.PrintTable(core, 64, 3, 10, 0)
	want := "abc\ndef"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestPrintTableStopsAtHeight(t *testing.T) {
	core := newCoreWithMemory(128)
	core.WriteByte(64, 9)
	for i := 0; i < 9; i++ {
		core.WriteByte(uint32(65+i), 'x')
	}

	got := ztable.PrintTable(core, 64, 3, 2, 0)
	want := "xxx\nxxx"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestScanTableFindsByteMatch(t *testing.T) {
	core := newCoreWithMemory(128)
	values := []uint8{1, 5, 9, 42, 7}
	for i, v := range values {
		core.WriteByte(uint32(64+i), v)
	}

	addr := ztable.ScanTable(core, 42, 64, uint16(len(values)), 1)
	if addr != 64+3 {
		t.Errorf("expected match at address %d, got %d", 64+3, addr)
	}
}

func TestScanTableFindsWordMatch(t *testing.T) {
	core := newCoreWithMemory(128)
	core.WriteHalfWord(64, 0x1111)
	core.WriteHalfWord(66, 0xBEEF)
	core.WriteHalfWord(68, 0x2222)

	addr := ztable.ScanTable(core, 0xBEEF, 64, 3, 0b1000_0010)
	if addr != 66 {
		t.Errorf("expected match at address 66, got %d", addr)
	}
}

func TestScanTableReturnsZeroWhenAbsent(t *testing.T) {
	core := newCoreWithMemory(128)
	core.WriteByte(64, 1)
	core.WriteByte(65, 2)

	if addr := ztable.ScanTable(core, 99, 64, 2, 1); addr != 0 {
		t.Errorf("expected no match, got address %d", addr)
	}
}

func TestCopyTableZeroesWhenSecondIsZero(t *testing.T) {
	core := newCoreWithMemory(128)
	for i := 0; i < 4; i++ {
		core.WriteByte(uint32(64+i), 0xFF)
	}

	ztable.CopyTable(core, 64, 0, 4)

	for i := 0; i < 4; i++ {
		if core.ReadByte(uint32(64+i)) != 0 {
			t.Errorf("expected byte %d to be zeroed", i)
		}
	}
}

func TestCopyTableForwardCopy(t *testing.T) {
	core := newCoreWithMemory(128)
	for i, b := range []uint8{10, 20, 30, 40} {
		core.WriteByte(uint32(64+i), b)
	}

	ztable.CopyTable(core, 64, 80, 4)

	for i, want := range []uint8{10, 20, 30, 40} {
		if got := core.ReadByte(uint32(80 + i)); got != want {
			t.Errorf("byte %d: expected %d, got %d", i, want, got)
		}
	}
}
