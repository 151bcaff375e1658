package zobject

import (
	"encoding/binary"
	"fmt"

	"github.com/davetcode/goz/zcore"
)

type Property struct {
	Id                   uint8
	Length               uint8
	Data                 []uint8
	PropertyHeaderLength uint8
	Address              uint32
	DataAddress          uint32
}

// GetPropertyLength is requested by the address of the first byte of the
// data. This function therefore works back from that to find the property
// length based on the flags set on the property size byte(s).
func GetPropertyLength(core *zcore.Core, addr uint32) uint16 {
	if addr == 0 {
		return 0 // Special case required by some story files
	}

	memory := core.Bytes()
	prevByte := memory[addr-1]
	if core.Version <= 3 {
		return uint16(prevByte>>5) + 1
	} else if prevByte&0b1000_0000 != 0 {
		if prevByte&0b11_1111 == 0 {
			return 64 // Special case 0 length == 64
		}
		return uint16(prevByte & 0b11_1111)
	} else {
		return uint16(((prevByte >> 6) & 1) + 1)
	}
}

// PropertyWidthMismatch is returned (via panic, recovered at the interpreter
// boundary) when put_prop's value width doesn't match the property's
// declared width.
type PropertyWidthMismatch struct {
	ObjectId   uint16
	PropertyId uint8
	Width      uint8
}

func (e *PropertyWidthMismatch) Error() string {
	return fmt.Sprintf("put_prop: property %d on object %d has width %d, value does not fit", e.PropertyId, e.ObjectId, e.Width)
}

func (o *Object) SetProperty(propertyId uint8, value uint16, core *zcore.Core) {
	memory := core.Bytes()
	objectNameLength := memory[o.PropertyPointer]
	currentPtr := uint32(o.PropertyPointer) + 1 + uint32(objectNameLength)*2

	for {
		if memory[currentPtr] == 0 {
			break
		}

		property := o.GetPropertyByAddress(currentPtr, core)

		if property.Id == propertyId {
			switch {
			case property.Length == 1 && value <= 0xFF:
				memory[currentPtr+uint32(property.PropertyHeaderLength)] = uint8(value)
			case property.Length == 2:
				binary.BigEndian.PutUint16(memory[currentPtr+uint32(property.PropertyHeaderLength):currentPtr+uint32(property.PropertyHeaderLength)+2], value)
			default:
				panic(&PropertyWidthMismatch{ObjectId: o.Id, PropertyId: propertyId, Width: property.Length})
			}

			return
		}

		currentPtr += uint32(property.Length) + uint32(property.PropertyHeaderLength)
	}

	panic(fmt.Sprintf("Invalid property (%d) requested for object (%d)", propertyId, o.Id))
}

func (o *Object) GetProperty(propertyId uint8, core *zcore.Core) Property {
	memory := core.Bytes()
	objectNameLength := memory[o.PropertyPointer]
	currentPtr := uint32(o.PropertyPointer) + 1 + uint32(objectNameLength)*2

	for {
		// Property table ends with null terminator
		if memory[currentPtr] == 0 {
			break
		}

		property := o.GetPropertyByAddress(currentPtr, core)

		if property.Id == propertyId {
			return property
		}
		if property.Id < propertyId {
			// Properties are sorted in descending order; none further on can match.
			break
		}

		currentPtr += uint32(property.Length) + uint32(property.PropertyHeaderLength)
	}

	// Property not found on object, returning global default for that property
	propertyAddress := uint32(core.ObjectTableBase) + 2*uint32(propertyId-1)
	return Property{
		Id:   propertyId,
		Data: memory[propertyAddress : propertyAddress+2],
	}
}

func (o *Object) GetPropertyByAddress(propertyAddr uint32, core *zcore.Core) Property {
	memory := core.Bytes()
	propertySizeByte := memory[propertyAddr]
	length := (propertySizeByte >> 5) + 1
	id := propertySizeByte & 0b1_1111
	propertyHeaderLength := uint8(1)

	if core.Version >= 4 {
		if propertySizeByte>>7 == 1 {
			length = memory[propertyAddr+1] & 0b11_1111

			// 12.4.2.1.1
			// A value of 0 as property data length should be interpreted as a length of 64.
			if length == 0 {
				length = 64
			}
			id = propertySizeByte & 0b11_1111
			propertyHeaderLength = 2
		} else {
			length = ((propertySizeByte >> 6) & 1) + 1
			id = propertySizeByte & 0b11_1111
		}
	}

	dataAddress := propertyAddr + uint32(propertyHeaderLength)

	return Property{
		Id:                   id,
		Length:               length,
		Data:                 memory[dataAddress : dataAddress+uint32(length)],
		PropertyHeaderLength: propertyHeaderLength,
		Address:              propertyAddr,
		DataAddress:          dataAddress,
	}
}

func (o *Object) GetNextProperty(propertyId uint8, core *zcore.Core) uint8 {
	memory := core.Bytes()
	if propertyId == 0 { // Special case, means get first property
		objectNameLength := memory[o.PropertyPointer]
		currentPtr := uint32(o.PropertyPointer) + 1 + uint32(objectNameLength)*2
		if memory[currentPtr] == 0 {
			return 0 // Special case, no next property means return 0
		}

		return o.GetPropertyByAddress(currentPtr, core).Id
	}

	property := o.GetProperty(propertyId, core)
	if property.DataAddress == 0 {
		panic(fmt.Sprintf("Can't call get next property with invalid property id (object %d, prop %d)", o.Id, propertyId))
	}

	nextPropertyPtr := property.DataAddress + uint32(property.Length)
	return o.GetPropertyByAddress(nextPropertyPtr, core).Id
}
