// SPDX-License-Identifier: MPL-2.0

package pyc

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

const (
	flagRef = 0x80

	// maxDepth matches the interpreter's own marshal nesting limit.
	maxDepth = 2000
)

type (
	// Ellipsis is the marshalled "..." singleton.
	Ellipsis struct{}

	// StopIteration is the marshalled StopIteration singleton.
	StopIteration struct{}

	// Tuple is a marshalled tuple.
	Tuple []any

	// List is a marshalled list.
	List []any

	// Set is a marshalled set.
	Set []any

	// FrozenSet is a marshalled frozenset.
	FrozenSet []any

	// DictEntry is one key/value pair of a Dict.
	DictEntry struct {
		Key   any
		Value any
	}

	// Dict is a marshalled dict in stream order.
	Dict []DictEntry

	// Code is a raw code object, before instruction decoding.
	Code struct {
		ArgCount        int
		PosOnlyArgCount int
		KwOnlyArgCount  int
		NLocals         int
		StackSize       int
		Flags           uint32
		Bytecode        []byte
		Consts          []any
		Names           []string
		VarNames        []string
		FreeVars        []string
		CellVars        []string
		Filename        string
		Name            string
		FirstLine       int
		LineTable       []byte
	}

	// MarshalError describes a decoding failure at a byte offset.
	MarshalError struct {
		Offset int
		Reason string
	}

	unmarshaler struct {
		data  []byte
		pos   int
		refs  []any
		depth int
	}
)

func (e *MarshalError) Error() string {
	return fmt.Sprintf("marshal data invalid at offset %d: %s", e.Offset, e.Reason)
}

// Unwrap returns ErrMarshal.
func (e *MarshalError) Unwrap() error { return ErrMarshal }

// Unmarshal decodes one marshalled object (format version 4, as written by
// CPython 3.8 through 3.10). Scalars decode to Go scalars: None is nil, ints
// are int (or *big.Int beyond int64), strings are string, bytes are []byte.
// Code objects decode to *Code.
func Unmarshal(data []byte) (any, error) {
	u := &unmarshaler{data: data}
	v, err := u.object()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (u *unmarshaler) fail(format string, args ...any) error {
	return &MarshalError{Offset: u.pos, Reason: fmt.Sprintf(format, args...)}
}

func (u *unmarshaler) take(n int) ([]byte, error) {
	if n < 0 || u.pos+n > len(u.data) {
		return nil, u.fail("need %d bytes, %d left", n, len(u.data)-u.pos)
	}
	b := u.data[u.pos : u.pos+n]
	u.pos += n
	return b, nil
}

func (u *unmarshaler) readByte() (byte, error) {
	b, err := u.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (u *unmarshaler) readInt32() (int32, error) {
	b, err := u.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil //nolint:gosec // two's complement reinterpretation
}

func (u *unmarshaler) size() (int, error) {
	n, err := u.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, u.fail("negative size %d", n)
	}
	return int(n), nil
}

func (u *unmarshaler) readFloat64() (float64, error) {
	b, err := u.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (u *unmarshaler) textFloat() (float64, error) {
	n, err := u.readByte()
	if err != nil {
		return 0, err
	}
	b, err := u.take(int(n))
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, u.fail("bad float literal %q", b)
	}
	return f, nil
}

// reserve claims a reference slot before the object body is read, as the
// writer numbers containers before their items.
func (u *unmarshaler) reserve(flagged bool) int {
	if !flagged {
		return -1
	}
	u.refs = append(u.refs, nil)
	return len(u.refs) - 1
}

func (u *unmarshaler) fill(idx int, v any) any {
	if idx >= 0 {
		u.refs[idx] = v
	}
	return v
}

func (u *unmarshaler) object() (any, error) {
	u.depth++
	defer func() { u.depth-- }()
	if u.depth > maxDepth {
		return nil, u.fail("nesting deeper than %d", maxDepth)
	}

	code, err := u.readByte()
	if err != nil {
		return nil, err
	}
	flagged := code&flagRef != 0
	kind := code &^ flagRef
	idx := u.reserve(flagged)

	var v any
	switch kind {
	case '0':
		return nil, u.fail("unexpected NULL object")
	case 'N':
		v = nil
	case 'F':
		v = false
	case 'T':
		v = true
	case 'S':
		v = StopIteration{}
	case '.':
		v = Ellipsis{}
	case 'i':
		n, err := u.readInt32()
		if err != nil {
			return nil, err
		}
		v = int(n)
	case 'l':
		v, err = u.long()
	case 'g':
		v, err = u.readFloat64()
	case 'f':
		v, err = u.textFloat()
	case 'y':
		v, err = u.complex(u.readFloat64)
	case 'x':
		v, err = u.complex(u.textFloat)
	case 's':
		var n int
		if n, err = u.size(); err == nil {
			var b []byte
			if b, err = u.take(n); err == nil {
				v = append([]byte(nil), b...)
			}
		}
	case 't', 'u', 'a', 'A':
		v, err = u.str(false)
	case 'z', 'Z':
		v, err = u.str(true)
	case ')':
		var n byte
		if n, err = u.readByte(); err == nil {
			var items []any
			items, err = u.sequence(int(n))
			v = Tuple(items)
		}
	case '(':
		v, err = u.sizedSequence(func(items []any) any { return Tuple(items) })
	case '[':
		v, err = u.sizedSequence(func(items []any) any { return List(items) })
	case '<':
		v, err = u.sizedSequence(func(items []any) any { return Set(items) })
	case '>':
		v, err = u.sizedSequence(func(items []any) any { return FrozenSet(items) })
	case '{':
		v, err = u.dict()
	case 'c':
		v, err = u.code()
	case 'r':
		var n int
		if n, err = u.size(); err == nil {
			if n >= len(u.refs) {
				return nil, u.fail("reference %d out of range (%d known)", n, len(u.refs))
			}
			v = u.refs[n]
		}
	default:
		return nil, u.fail("unknown type code %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return u.fill(idx, v), nil
}

func (u *unmarshaler) str(short bool) (string, error) {
	var n int
	if short {
		b, err := u.readByte()
		if err != nil {
			return "", err
		}
		n = int(b)
	} else {
		var err error
		if n, err = u.size(); err != nil {
			return "", err
		}
	}
	b, err := u.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (u *unmarshaler) long() (any, error) {
	n, err := u.readInt32()
	if err != nil {
		return nil, err
	}
	count := int(n)
	negative := count < 0
	if negative {
		count = -count
	}
	result := new(big.Int)
	for i := range count {
		b, err := u.take(2)
		if err != nil {
			return nil, err
		}
		digit := binary.LittleEndian.Uint16(b)
		if digit >= 1<<15 {
			return nil, u.fail("long digit %d out of range", digit)
		}
		result.Or(result, new(big.Int).Lsh(big.NewInt(int64(digit)), uint(15*i)))
	}
	if negative {
		result.Neg(result)
	}
	if result.IsInt64() {
		return int(result.Int64()), nil
	}
	return result, nil
}

func (u *unmarshaler) complex(part func() (float64, error)) (any, error) {
	re, err := part()
	if err != nil {
		return nil, err
	}
	im, err := part()
	if err != nil {
		return nil, err
	}
	return complex(re, im), nil
}

func (u *unmarshaler) sequence(n int) ([]any, error) {
	if n > len(u.data)-u.pos {
		return nil, u.fail("sequence of %d items exceeds remaining input", n)
	}
	items := make([]any, 0, n)
	for range n {
		item, err := u.object()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (u *unmarshaler) sizedSequence(wrap func([]any) any) (any, error) {
	n, err := u.size()
	if err != nil {
		return nil, err
	}
	items, err := u.sequence(n)
	if err != nil {
		return nil, err
	}
	return wrap(items), nil
}

func (u *unmarshaler) dict() (any, error) {
	var d Dict
	for {
		if u.pos >= len(u.data) {
			return nil, u.fail("unterminated dict")
		}
		if u.data[u.pos] == '0' {
			u.pos++
			return d, nil
		}
		key, err := u.object()
		if err != nil {
			return nil, err
		}
		value, err := u.object()
		if err != nil {
			return nil, err
		}
		d = append(d, DictEntry{Key: key, Value: value})
	}
}

// code reads a 3.8-3.10 code object body.
func (u *unmarshaler) code() (any, error) {
	var header [6]int32
	for i := range header {
		n, err := u.readInt32()
		if err != nil {
			return nil, err
		}
		header[i] = n
	}

	c := &Code{
		ArgCount:        int(header[0]),
		PosOnlyArgCount: int(header[1]),
		KwOnlyArgCount:  int(header[2]),
		NLocals:         int(header[3]),
		StackSize:       int(header[4]),
		Flags:           uint32(header[5]), //nolint:gosec // flags are a bit set
	}

	var err error
	if c.Bytecode, err = u.bytesField("co_code"); err != nil {
		return nil, err
	}
	consts, err := u.tupleField("co_consts")
	if err != nil {
		return nil, err
	}
	c.Consts = consts
	for _, field := range []struct {
		name string
		dst  *[]string
	}{
		{"co_names", &c.Names},
		{"co_varnames", &c.VarNames},
		{"co_freevars", &c.FreeVars},
		{"co_cellvars", &c.CellVars},
	} {
		if *field.dst, err = u.stringsField(field.name); err != nil {
			return nil, err
		}
	}
	if c.Filename, err = u.stringField("co_filename"); err != nil {
		return nil, err
	}
	if c.Name, err = u.stringField("co_name"); err != nil {
		return nil, err
	}
	first, err := u.readInt32()
	if err != nil {
		return nil, err
	}
	c.FirstLine = int(first)
	if c.LineTable, err = u.bytesField("co_lnotab"); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *unmarshaler) bytesField(name string) ([]byte, error) {
	v, err := u.object()
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, u.fail("%s is %T, want bytes", name, v)
	}
	return b, nil
}

func (u *unmarshaler) tupleField(name string) ([]any, error) {
	v, err := u.object()
	if err != nil {
		return nil, err
	}
	t, ok := v.(Tuple)
	if !ok {
		return nil, u.fail("%s is %T, want tuple", name, v)
	}
	return t, nil
}

func (u *unmarshaler) stringsField(name string) ([]string, error) {
	items, err := u.tupleField(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, u.fail("%s[%d] is %T, want str", name, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func (u *unmarshaler) stringField(name string) (string, error) {
	v, err := u.object()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", u.fail("%s is %T, want str", name, v)
	}
	return s, nil
}
