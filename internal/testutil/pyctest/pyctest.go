// SPDX-License-Identifier: MPL-2.0

// Package pyctest builds compiled-module images for tests: a small marshal
// encoder and the 16-byte .pyc header in front of it.
package pyctest

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Magic numbers of the interpreter versions the decoder supports.
const (
	Magic38  uint16 = 3413
	Magic39  uint16 = 3425
	Magic310 uint16 = 3439
)

// Code is the encoder's view of a code object.
type Code struct {
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
}

// Module returns a module-level code object.
func Module(ops []byte, consts []any, names ...string) *Code {
	return &Code{
		Flags:    0x40,
		Bytecode: ops,
		Consts:   consts,
		Names:    names,
		Filename: "mod.py",
		Name:     "<module>",
	}
}

// Imports returns a module made of one plain import statement per name.
// Dotted names bind their first component, the way "import a.b" does. The
// instruction encoding is shared by 3.8, 3.9 and 3.10.
func Imports(names ...string) *Code {
	var (
		ops   []byte
		table []string
	)
	index := func(name string) byte {
		for i, n := range table {
			if n == name {
				return byte(i)
			}
		}
		table = append(table, name)
		return byte(len(table) - 1)
	}
	for _, name := range names {
		bound, _, _ := strings.Cut(name, ".")
		ops = append(ops, 100, 0, 100, 1, 108, index(name), 90, index(bound))
	}
	ops = append(ops, 100, 1, 83, 0)
	return Module(ops, []any{0, nil}, table...)
}

// Marshal encodes v. Supported values are nil, bool, int, string, []byte,
// []string and []any (both as tuples) and *Code. Anything else panics: that
// is a bug in the test itself.
func Marshal(v any) []byte {
	return appendValue(nil, v)
}

// Image returns a timestamp-based .pyc image of code.
func Image(magic uint16, mtime, size uint32, code *Code) []byte {
	header := binary.LittleEndian.AppendUint16(nil, magic)
	header = append(header, '\r', '\n')
	header = binary.LittleEndian.AppendUint32(header, 0)
	header = binary.LittleEndian.AppendUint32(header, mtime)
	header = binary.LittleEndian.AppendUint32(header, size)
	return appendValue(header, code)
}

func appendInt32(b []byte, n int) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(int32(n)))
}

func appendValue(buf []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return append(buf, 'N')
	case bool:
		if v {
			return append(buf, 'T')
		}
		return append(buf, 'F')
	case int:
		return appendInt32(append(buf, 'i'), v)
	case string:
		buf = append(buf, 'z', byte(len(v)))
		return append(buf, v...)
	case []byte:
		buf = appendInt32(append(buf, 's'), len(v))
		return append(buf, v...)
	case []string:
		items := make([]any, 0, len(v))
		for _, s := range v {
			items = append(items, s)
		}
		return appendValue(buf, items)
	case []any:
		buf = appendInt32(append(buf, '('), len(v))
		for _, item := range v {
			buf = appendValue(buf, item)
		}
		return buf
	case *Code:
		buf = append(buf, 'c')
		for _, n := range []int{v.ArgCount, v.PosOnlyArgCount, v.KwOnlyArgCount, v.NLocals, v.StackSize, int(v.Flags)} {
			buf = appendInt32(buf, n)
		}
		buf = appendValue(buf, v.Bytecode)
		consts := v.Consts
		if consts == nil {
			consts = []any{}
		}
		buf = appendValue(buf, consts)
		for _, names := range [][]string{v.Names, v.VarNames, v.FreeVars, v.CellVars} {
			buf = appendValue(buf, names)
		}
		buf = appendValue(buf, v.Filename)
		buf = appendValue(buf, v.Name)
		buf = appendInt32(buf, v.FirstLine)
		return appendValue(buf, []byte{})
	default:
		panic(fmt.Sprintf("pyctest: cannot marshal %T", v))
	}
}
