package block

// Type tags a block as Free or as holding data of a particular kind. The allocator only
// distinguishes Free from not-Free: Char, Int and Double are hints for code that displays
// or reinterprets a block's contents, and are carried through relocations unchanged.
type Type uint8

const (
	Free Type = iota
	Char
	Int
	Double
)

// DefaultType is the type given to blocks allocated without an explicit type
const DefaultType = Char

var typeMapping = map[Type]string{
	Free:   "free",
	Char:   "char",
	Int:    "int",
	Double: "double",
}

var elementSizes = map[Type]int{
	Char:   1,
	Int:    4,
	Double: 8,
}

func (t Type) String() string {
	name, ok := typeMapping[t]
	if !ok {
		return "unknown"
	}
	return name
}

// Valid returns true if t is one of the declared block types
func (t Type) Valid() bool {
	_, ok := typeMapping[t]
	return ok
}

// ElementSize returns the width in bytes of a single element of this type, or 0 for Free
func (t Type) ElementSize() int {
	return elementSizes[t]
}

// ParseType maps a type name as returned by String back to its Type
func ParseType(name string) (Type, bool) {
	for t, typeName := range typeMapping {
		if typeName == name {
			return t, true
		}
	}

	return Free, false
}
