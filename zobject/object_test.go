package zobject_test

import (
	"testing"

	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zobject"
	"github.com/davetcode/goz/zstring"
)

func newTestCoreV3(t *testing.T) (*zcore.Core, *zstring.Alphabets) {
	t.Helper()

	bytes := make([]uint8, 600)
	bytes[0x00] = 3 // version
	bytes[0x0a] = 0x00
	bytes[0x0b] = 0x40 // object table base
	bytes[0x0e] = 0x02
	bytes[0x0f] = 0x58 // static memory base, past everything the fixtures write

	core := zcore.LoadCore(bytes)
	alphabets := zstring.LoadAlphabets(&core)
	return &core, alphabets
}

const (
	testObjectTableBase   = 0x40
	testObject1Base       = testObjectTableBase + 31*2 // default property table is 31 words on v1-3
	testPropertyTableAddr = testObject1Base + 9*2       // room for 2 objects
)

// buildRoomObject writes a single object ("room") at object id 1 with
// attributes 2, 3 and 19 set and two properties (6 and 3).
func buildRoomObject(core *zcore.Core, alphabets *zstring.Alphabets) {
	memory := core.Bytes()

	memory[testObject1Base] = 0x30   // attribute byte 0: bits for attrs 2, 3
	memory[testObject1Base+2] = 0x10 // attribute byte 2: bit for attr 19
	memory[testObject1Base+7] = uint8(testPropertyTableAddr >> 8)
	memory[testObject1Base+8] = uint8(testPropertyTableAddr)

	nameZstr := zstring.Encode([]rune("room"), core, alphabets)
	ptr := testPropertyTableAddr
	memory[ptr] = uint8(len(nameZstr) / 2)
	ptr++
	copy(memory[ptr:], nameZstr)
	ptr += len(nameZstr)

	memory[ptr] = 0x06 // property 6, length 1
	ptr++
	memory[ptr] = 0x85
	ptr++

	memory[ptr] = 0x23 // property 3, length 2
	ptr++
	memory[ptr] = 0x12
	memory[ptr+1] = 0x34
	ptr += 2

	memory[ptr] = 0x00 // terminator
}

func TestZerothObjectRetrieval(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Retrieving object with id 0 should panic")
		}
	}()

	core, alphabets := newTestCoreV3(t)
	zobject.GetObject(0, core, alphabets)
}

func TestV3ObjectRetrieval(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)

	obj := zobject.GetObject(1, core, alphabets)

	if obj.Name != "room" {
		t.Errorf("Incorrect name %q", obj.Name)
	}
	if obj.Parent != 0 || obj.Sibling != 0 || obj.Child != 0 {
		t.Errorf("Expected no parent/sibling/child, got %d/%d/%d", obj.Parent, obj.Sibling, obj.Child)
	}
	if obj.PropertyPointer != testPropertyTableAddr {
		t.Errorf("Incorrect property pointer 0x%x", obj.PropertyPointer)
	}
}

func TestV3PropertyRetrieval(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)
	obj := zobject.GetObject(1, core, alphabets)

	prop6 := obj.GetProperty(6, core)
	if prop6.Length != 1 {
		t.Errorf("Incorrect property length %d", prop6.Length)
	}
	if prop6.Data[0] != 0x85 {
		t.Errorf("Incorrect property data %x", prop6.Data[0])
	}

	prop3 := obj.GetProperty(3, core)
	if prop3.Length != 2 {
		t.Errorf("Incorrect property length %d", prop3.Length)
	}
	if prop3.Data[0] != 0x12 || prop3.Data[1] != 0x34 {
		t.Errorf("Incorrect property data %x%x", prop3.Data[0], prop3.Data[1])
	}

	// Non-existent property falls back to the object table's default entry.
	prop9 := obj.GetProperty(9, core)
	if prop9.DataAddress != 0 {
		t.Error("Property 9 shouldn't exist on this object")
	}
}

func TestV3NextProperty(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)
	obj := zobject.GetObject(1, core, alphabets)

	first := obj.GetNextProperty(0, core)
	if first != 6 {
		t.Errorf("Expected first property to be 6, got %d", first)
	}

	second := obj.GetNextProperty(6, core)
	if second != 3 {
		t.Errorf("Expected property after 6 to be 3, got %d", second)
	}

	last := obj.GetNextProperty(3, core)
	if last != 0 {
		t.Errorf("Expected no property after 3, got %d", last)
	}
}

func TestSetPropertyWidthMismatch(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)
	obj := zobject.GetObject(1, core, alphabets)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected put_prop on a 1-byte property with an out-of-range value to panic")
		}
		if _, ok := r.(*zobject.PropertyWidthMismatch); !ok {
			t.Errorf("expected *PropertyWidthMismatch, got %T", r)
		}
	}()

	obj.SetProperty(6, 0x1234, core)
}

func TestSetPropertyInRange(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)
	obj := zobject.GetObject(1, core, alphabets)

	obj.SetProperty(6, 0x42, core)
	if got := obj.GetProperty(6, core).Data[0]; got != 0x42 {
		t.Errorf("Expected property 6 to be updated to 0x42, got 0x%x", got)
	}

	obj.SetProperty(3, 0xbeef, core)
	prop3 := obj.GetProperty(3, core)
	if prop3.Data[0] != 0xbe || prop3.Data[1] != 0xef {
		t.Errorf("Expected property 3 to be updated to 0xbeef, got %x%x", prop3.Data[0], prop3.Data[1])
	}
}

func TestAttributesV3(t *testing.T) {
	core, alphabets := newTestCoreV3(t)
	buildRoomObject(core, alphabets)
	obj := zobject.GetObject(1, core, alphabets)

	if obj.TestAttribute(1) || obj.TestAttribute(4) || obj.TestAttribute(10) {
		t.Error("Object should not have attributes 1, 4, 10 set")
	}
	if !(obj.TestAttribute(2) && obj.TestAttribute(3) && obj.TestAttribute(19)) {
		t.Error("Object should have attributes 2, 3, 19 set")
	}

	obj.SetAttribute(10, core)
	if !obj.TestAttribute(10) {
		t.Error("Setting attribute 10 didn't work")
	}

	obj.ClearAttribute(10, core)
	if obj.TestAttribute(10) {
		t.Error("Clearing attribute 10 didn't work")
	}
}
