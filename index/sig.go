package index

import (
	"fmt"
	"strings"
)

// Kind is the storage kind of a field, parameter or result, derived from
// the first character of its descriptor.
type Kind uint8

const (
	KindVoid    Kind = iota // V, only valid as a method result
	KindBoolean             // Z
	KindByte                // B
	KindChar                // C, unsigned 16 bit
	KindShort               // S
	KindInt                 // I
	KindLong                // J
	KindFloat               // F
	KindDouble              // D
	KindRef                 // L...; or [
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindBoolean: "boolean",
	KindByte:    "byte",
	KindChar:    "char",
	KindShort:   "short",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindRef:     "ref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Size returns the number of bytes a value of this kind occupies in memory.
func (k Kind) Size(pointer64 bool) int {
	switch k {
	case KindBoolean, KindByte:
		return 1
	case KindChar, KindShort:
		return 2
	case KindInt, KindFloat:
		return 4
	case KindLong, KindDouble:
		return 8
	case KindRef:
		if pointer64 {
			return 8
		}
		return 4
	}
	return 0
}

// IsWide reports whether the kind occupies two slots on the source
// machine's operand stack.
func (k Kind) IsWide() bool {
	return k == KindLong || k == KindDouble
}

// kindOf decodes a single descriptor element starting at desc[0] and
// returns the kind plus the number of bytes consumed.
func kindOf(desc string) (Kind, int, error) {
	if desc == "" {
		return KindVoid, 0, fmt.Errorf("empty descriptor")
	}
	switch desc[0] {
	case 'V':
		return KindVoid, 1, nil
	case 'Z':
		return KindBoolean, 1, nil
	case 'B':
		return KindByte, 1, nil
	case 'C':
		return KindChar, 1, nil
	case 'S':
		return KindShort, 1, nil
	case 'I':
		return KindInt, 1, nil
	case 'J':
		return KindLong, 1, nil
	case 'F':
		return KindFloat, 1, nil
	case 'D':
		return KindDouble, 1, nil
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 0 {
			return KindVoid, 0, fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return KindRef, end + 1, nil
	case '[':
		_, n, err := kindOf(desc[1:])
		if err != nil {
			return KindVoid, 0, err
		}
		return KindRef, n + 1, nil
	}
	return KindVoid, 0, fmt.Errorf("invalid descriptor %q", desc)
}

// ParseFieldDescriptor returns the kind of a field descriptor such as "I" or
// "Ljava/lang/String;".
func ParseFieldDescriptor(desc string) (Kind, error) {
	k, n, err := kindOf(desc)
	if err != nil {
		return KindVoid, err
	}
	if n != len(desc) || k == KindVoid {
		return KindVoid, fmt.Errorf("invalid field descriptor %q", desc)
	}
	return k, nil
}

// ParseMethodDescriptor splits a method descriptor such as "(IJ)V" into its
// parameter kinds and result kind.
func ParseMethodDescriptor(desc string) ([]Kind, Kind, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, KindVoid, fmt.Errorf("invalid method descriptor %q", desc)
	}
	rest := desc[1:]
	var params []Kind
	for {
		if rest == "" {
			return nil, KindVoid, fmt.Errorf("unterminated method descriptor %q", desc)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		k, n, err := kindOf(rest)
		if err != nil {
			return nil, KindVoid, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		if k == KindVoid {
			return nil, KindVoid, fmt.Errorf("void parameter in %q", desc)
		}
		params = append(params, k)
		rest = rest[n:]
	}
	result, n, err := kindOf(rest)
	if err != nil || n != len(rest) {
		return nil, KindVoid, fmt.Errorf("invalid result in method descriptor %q", desc)
	}
	return params, result, nil
}

// FieldSig identifies a field. It is comparable and used as a map key.
type FieldSig struct {
	Class      string `cbor:"1,keyasint"`
	Name       string `cbor:"2,keyasint"`
	Descriptor string `cbor:"3,keyasint"`
	Static     bool   `cbor:"4,keyasint,omitempty"`
}

// Kind returns the storage kind of the field, or KindVoid if the descriptor
// is malformed.
func (f FieldSig) Kind() Kind {
	k, err := ParseFieldDescriptor(f.Descriptor)
	if err != nil {
		return KindVoid
	}
	return k
}

func (f FieldSig) String() string {
	if f.Static {
		return "static " + f.Class + "." + f.Name + ":" + f.Descriptor
	}
	return f.Class + "." + f.Name + ":" + f.Descriptor
}

// MethodSig identifies a method. It is comparable and used as a map key for
// the resolution tables.
type MethodSig struct {
	Class      string `cbor:"1,keyasint"`
	Name       string `cbor:"2,keyasint"`
	Descriptor string `cbor:"3,keyasint"`
	Static     bool   `cbor:"4,keyasint,omitempty"`
}

// Params returns the parameter kinds of the method, excluding the receiver.
func (m MethodSig) Params() []Kind {
	params, _, _ := ParseMethodDescriptor(m.Descriptor)
	return params
}

// Result returns the result kind, KindVoid for methods without a result.
func (m MethodSig) Result() Kind {
	_, result, _ := ParseMethodDescriptor(m.Descriptor)
	return result
}

// SameSlot reports whether m and other would occupy the same dispatch slot,
// i.e. whether one can override the other.
func (m MethodSig) SameSlot(other MethodSig) bool {
	return m.Name == other.Name && m.Descriptor == other.Descriptor && m.Static == other.Static
}

// FuncName returns the symbol name of the method's implementation.
// "java/lang/Math.max(II)I" becomes "java_lang_Math_max_II_I".
func (m MethodSig) FuncName() string {
	var sb strings.Builder
	sb.WriteString(mangle(m.Class))
	sb.WriteByte('_')
	sb.WriteString(mangle(strings.Trim(m.Name, "<>")))
	sb.WriteByte('_')
	sb.WriteString(mangle(m.Descriptor))
	return sb.String()
}

func (m MethodSig) String() string {
	if m.Static {
		return "static " + m.Class + "." + m.Name + m.Descriptor
	}
	return m.Class + "." + m.Name + m.Descriptor
}

func mangle(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			sb.WriteByte(c)
		case c == '(':
		case c == '[':
			sb.WriteByte('A')
		case c == '/', c == '$', c == '.', c == ';', c == ')':
			sb.WriteByte('_')
		default:
			fmt.Fprintf(&sb, "x%02x", c)
		}
	}
	return sb.String()
}

// ClassSig describes a class or interface as delivered by the front end.
type ClassSig struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
}
