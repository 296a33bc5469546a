// SPDX-License-Identifier: MPL-2.0

package pyc

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/testutil/pyctest"
)

func pycImage(t *testing.T, v Version, code *pyctest.Code) []byte {
	t.Helper()
	magic, err := v.Magic()
	if err != nil {
		t.Fatal(err)
	}
	return pyctest.Image(magic, 1700000000, 42, code)
}

func TestUnmarshal_InterpreterOutput(t *testing.T) {
	t.Parallel()

	// marshal.dumps(('os', 'os', 1, -2, None, True, 2**70, -(2**31), 1.5, b'xy',
	//                frozenset(), ['a'], {'k': 3}, Ellipsis, 'é'))
	data, err := hex.DecodeString("a90fda026f737201000000e901000000e9feffffff4e546c0500000000000000000000000004e900000080e7000000000000f83ff30200000078793e000000005b01000000da01617bda016be903000000302ef502000000c3a9")
	if err != nil {
		t.Fatal(err)
	}

	obj, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	tuple, ok := obj.(Tuple)
	if !ok || len(tuple) != 15 {
		t.Fatalf("expected 15-tuple, got %#v", obj)
	}

	if tuple[0] != "os" || tuple[1] != "os" {
		t.Errorf("string and back-reference = %v, %v", tuple[0], tuple[1])
	}
	if tuple[2] != 1 || tuple[3] != -2 || tuple[7] != -(1 << 31) {
		t.Errorf("ints = %v, %v, %v", tuple[2], tuple[3], tuple[7])
	}
	if tuple[4] != nil || tuple[5] != true {
		t.Errorf("singletons = %v, %v", tuple[4], tuple[5])
	}
	want := new(big.Int).Lsh(big.NewInt(1), 70)
	if got, ok := tuple[6].(*big.Int); !ok || got.Cmp(want) != 0 {
		t.Errorf("2**70 decoded as %v", tuple[6])
	}
	if tuple[8] != 1.5 {
		t.Errorf("float = %v", tuple[8])
	}
	if b, ok := tuple[9].([]byte); !ok || string(b) != "xy" {
		t.Errorf("bytes = %v", tuple[9])
	}
	if fs, ok := tuple[10].(FrozenSet); !ok || len(fs) != 0 {
		t.Errorf("frozenset = %#v", tuple[10])
	}
	if l, ok := tuple[11].(List); !ok || len(l) != 1 || l[0] != "a" {
		t.Errorf("list = %#v", tuple[11])
	}
	if d, ok := tuple[12].(Dict); !ok || len(d) != 1 || d[0].Key != "k" || d[0].Value != 3 {
		t.Errorf("dict = %#v", tuple[12])
	}
	if tuple[13] != (Ellipsis{}) {
		t.Errorf("ellipsis = %#v", tuple[13])
	}
	if tuple[14] != "é" {
		t.Errorf("unicode = %q", tuple[14])
	}
}

func TestUnmarshal_LongFitsInt(t *testing.T) {
	t.Parallel()

	// marshal.dumps(2**64 + 5) does not fit int64.
	data, _ := hex.DecodeString("ec0500000005000000000000001000")
	obj, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := new(big.Int).SetString("18446744073709551621", 10)
	if got, ok := obj.(*big.Int); !ok || got.Cmp(want) != 0 {
		t.Errorf("got %v", obj)
	}

	// A small long (two digits) collapses to int.
	small := []byte{'l', 2, 0, 0, 0, 1, 0, 1, 0}
	obj, err = Unmarshal(small)
	if err != nil {
		t.Fatal(err)
	}
	if obj != 1+(1<<15) {
		t.Errorf("small long = %v", obj)
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated int", []byte{'i', 1, 0}},
		{"unknown type", []byte{'?'}},
		{"dangling reference", []byte{'r', 5, 0, 0, 0}},
		{"unterminated dict", []byte{'{', 'N', 'N'}},
		{"oversized tuple", []byte{'(', 0xff, 0xff, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Unmarshal(tt.data)
			if !errors.Is(err, ErrMarshal) {
				t.Errorf("expected ErrMarshal, got %v", err)
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	image := pycImage(t, Version{3, 9}, pyctest.Module([]byte{100, 0, 83, 0}, []any{nil}))
	h, err := ParseHeader(image)
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != (Version{3, 9}) || h.Magic != 3425 {
		t.Errorf("version = %v magic = %d", h.Version, h.Magic)
	}
	if h.HashBased() || h.Mtime != 1700000000 || h.SourceSize != 42 {
		t.Errorf("timestamp header decoded as %+v", h)
	}

	hashed := slices.Clone(image)
	hashed[4] = 0x3
	h, err = ParseHeader(hashed)
	if err != nil {
		t.Fatal(err)
	}
	if !h.HashBased() || h.Mtime != 0 {
		t.Errorf("hash header decoded as %+v", h)
	}

	if _, err := ParseHeader([]byte("#!/usr/bin/env python3\n")); !errors.Is(err, ErrBadMagic) {
		t.Errorf("source text: expected ErrBadMagic, got %v", err)
	}

	py311 := slices.Clone(image)
	binary.LittleEndian.PutUint16(py311, 3495)
	if _, err := ParseHeader(py311); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("3.11 magic: expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "3.8", want: Version{3, 8}},
		{in: "3.10.4", want: Version{3, 10}},
		{in: "v3.9", want: Version{3, 9}},
		{in: "3.11", wantErr: true},
		{in: "2.7", wantErr: true},
		{in: "python", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedVersion) {
					t.Errorf("expected ErrUnsupportedVersion, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, %v", tt.in, got, err)
			}
		})
	}

	if !(Version{3, 10}).AtLeast(Version{3, 9}) || (Version{3, 8}).AtLeast(Version{3, 9}) {
		t.Error("AtLeast ordering is wrong")
	}
	if (Version{3, 10}).Tag() != "cpython-310" {
		t.Errorf("Tag() = %s", (Version{3, 10}).Tag())
	}
}

func TestDecode_ImportStatement(t *testing.T) {
	t.Parallel()

	// import os
	ops := []byte{
		100, 0, // LOAD_CONST 0
		100, 1, // LOAD_CONST None
		108, 0, // IMPORT_NAME os
		90, 0, // STORE_NAME os
		100, 1, // LOAD_CONST None
		83, 0, // RETURN_VALUE
	}
	image := pycImage(t, Version{3, 8}, pyctest.Module(ops, []any{0, nil}, "os"))

	unit, h, err := Decode(image)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.Version != (Version{3, 8}) {
		t.Errorf("version = %v", h.Version)
	}
	if len(unit.Instructions) != 6 {
		t.Fatalf("expected 6 instructions, got %d", len(unit.Instructions))
	}
	imp := unit.Instructions[2]
	if imp.Op != bytecode.OpImportName || imp.Name != "os" || imp.Offset != 4 {
		t.Errorf("IMPORT_NAME decoded as %+v", imp)
	}

	result, err := bytecode.Extract(unit)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Imports) != 1 || result.Imports[0].Name != "os" || result.Imports[0].Binding != "os" {
		t.Errorf("imports = %+v", result.Imports)
	}
	if !result.GlobalsWritten.Has("os") {
		t.Error("expected os in GlobalsWritten")
	}
}

func TestDecode_JumpUnits(t *testing.T) {
	t.Parallel()

	// if x:
	//     import a
	conditional := func(target byte) []byte {
		return []byte{
			101, 0, // LOAD_NAME x
			114, target, // POP_JUMP_IF_FALSE
			100, 0, // LOAD_CONST 0
			100, 1, // LOAD_CONST None
			108, 1, // IMPORT_NAME a
			90, 1, // STORE_NAME a
			100, 1, // offset 12: LOAD_CONST None
			83, 0, // RETURN_VALUE
		}
	}

	for _, tt := range []struct {
		version Version
		arg     byte
	}{
		{Version{3, 8}, 12},
		{Version{3, 9}, 12},
		{Version{3, 10}, 6},
	} {
		t.Run(tt.version.String(), func(t *testing.T) {
			t.Parallel()
			code := pyctest.Module(conditional(tt.arg), []any{0, nil}, "x", "a")
			unit, err := DecodeCode(tt.version, pyctest.Marshal(code))
			if err != nil {
				t.Fatal(err)
			}
			if target := unit.Instructions[1].Target; target != 12 {
				t.Errorf("jump target = %d, want 12", target)
			}
			result, err := bytecode.Extract(unit)
			if err != nil {
				t.Fatal(err)
			}
			if !result.Imports[0].InConditional {
				t.Error("import a should be conditional")
			}
		})
	}
}

func TestDecode_ExtendedArg(t *testing.T) {
	t.Parallel()

	ops := []byte{
		144, 1, // EXTENDED_ARG 1
		110, 4, // JUMP_FORWARD 260 bytes
		100, 0,
		83, 0,
	}
	unit, err := DecodeCode(Version{3, 8}, pyctest.Marshal(pyctest.Module(ops, []any{nil})))
	if err != nil {
		t.Fatal(err)
	}
	if len(unit.Instructions) != 3 {
		t.Fatalf("EXTENDED_ARG should fold into its instruction, got %d instructions", len(unit.Instructions))
	}
	jump := unit.Instructions[0]
	if jump.Offset != 0 || jump.Arg != 260 || jump.Target != 4+260 {
		t.Errorf("folded jump = %+v", jump)
	}
}

func TestDecode_ExceptClause38(t *testing.T) {
	t.Parallel()

	ops := []byte{
		116, 0, // LOAD_GLOBAL ImportError
		107, 10, // COMPARE_OP exception match
		114, 8, // POP_JUMP_IF_FALSE
		100, 0, // offset 6
		83, 0, // offset 8
	}
	unit, err := DecodeCode(Version{3, 8}, pyctest.Marshal(pyctest.Module(ops, []any{nil}, "ImportError")))
	if err != nil {
		t.Fatal(err)
	}
	if op := unit.Instructions[2].Op; op != bytecode.OpJumpExcMatch {
		t.Errorf("except-clause jump normalized to %v", op)
	}
}

func TestDecode_ImportContext38(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		ops             []byte
		wantConditional bool
		wantTryExcept   bool
	}{
		{
			// for x in r:
			//     if x:
			//         import m
			name: "if closing a loop body",
			ops: []byte{
				101, 1, // 0 LOAD_NAME r
				68, 0, // 2 GET_ITER
				93, 16, // 4 FOR_ITER (to 22)
				90, 2, // 6 STORE_NAME x
				101, 2, // 8 LOAD_NAME x
				114, 4, // 10 POP_JUMP_IF_FALSE 4
				100, 0, // 12 LOAD_CONST 0
				100, 1, // 14 LOAD_CONST None
				108, 0, // 16 IMPORT_NAME m
				90, 0, // 18 STORE_NAME m
				113, 4, // 20 JUMP_ABSOLUTE 4
				100, 1, // 22 LOAD_CONST None
				83, 0, // 24 RETURN_VALUE
			},
			wantConditional: true,
		},
		{
			// while True:
			//     if x:
			//         import m
			name: "if inside while True",
			ops: []byte{
				101, 2, // 0 LOAD_NAME x
				114, 0, // 2 POP_JUMP_IF_FALSE 0
				100, 0, // 4 LOAD_CONST 0
				100, 1, // 6 LOAD_CONST None
				108, 0, // 8 IMPORT_NAME m
				90, 0, // 10 STORE_NAME m
				113, 0, // 12 JUMP_ABSOLUTE 0
				100, 1, // 14 LOAD_CONST None
				83, 0, // 16 RETURN_VALUE
			},
			wantConditional: true,
		},
		{
			// try:
			//     import m
			// finally:
			//     r()
			name: "try finally",
			ops: []byte{
				122, 12, // 0 SETUP_FINALLY (to 14)
				100, 0, // 2 LOAD_CONST 0
				100, 1, // 4 LOAD_CONST None
				108, 0, // 6 IMPORT_NAME m
				90, 0, // 8 STORE_NAME m
				87, 0, // 10 POP_BLOCK
				53, 0, // 12 BEGIN_FINALLY
				101, 1, // 14 LOAD_NAME r
				131, 0, // 16 CALL_FUNCTION 0
				1, 0, // 18 POP_TOP
				88, 0, // 20 END_FINALLY
				100, 1, // 22 LOAD_CONST None
				83, 0, // 24 RETURN_VALUE
			},
		},
		{
			// try:
			//     import m
			// except:
			//     pass
			name: "bare except",
			ops: []byte{
				122, 12, // 0 SETUP_FINALLY (to 14)
				100, 0, // 2 LOAD_CONST 0
				100, 1, // 4 LOAD_CONST None
				108, 0, // 6 IMPORT_NAME m
				90, 0, // 8 STORE_NAME m
				87, 0, // 10 POP_BLOCK
				110, 12, // 12 JUMP_FORWARD (to 26)
				1, 0, // 14 POP_TOP
				1, 0, // 16 POP_TOP
				1, 0, // 18 POP_TOP
				89, 0, // 20 POP_EXCEPT
				110, 2, // 22 JUMP_FORWARD (to 26)
				88, 0, // 24 END_FINALLY
				100, 1, // 26 LOAD_CONST None
				83, 0, // 28 RETURN_VALUE
			},
			wantTryExcept: true,
		},
		{
			// try:
			//     import m
			// except ImportError:
			//     pass
			name: "except clause",
			ops: []byte{
				122, 12, // 0 SETUP_FINALLY (to 14)
				100, 0, // 2 LOAD_CONST 0
				100, 1, // 4 LOAD_CONST None
				108, 0, // 6 IMPORT_NAME m
				90, 0, // 8 STORE_NAME m
				87, 0, // 10 POP_BLOCK
				110, 20, // 12 JUMP_FORWARD (to 34)
				4, 0, // 14 DUP_TOP
				101, 1, // 16 LOAD_NAME ImportError
				107, 10, // 18 COMPARE_OP exception match
				114, 32, // 20 POP_JUMP_IF_FALSE 32
				1, 0, // 22 POP_TOP
				1, 0, // 24 POP_TOP
				1, 0, // 26 POP_TOP
				89, 0, // 28 POP_EXCEPT
				110, 2, // 30 JUMP_FORWARD (to 34)
				88, 0, // 32 END_FINALLY
				100, 1, // 34 LOAD_CONST None
				83, 0, // 36 RETURN_VALUE
			},
			wantTryExcept: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code := pyctest.Module(tt.ops, []any{0, nil}, "m", "r", "x")
			unit, err := DecodeCode(Version{3, 8}, pyctest.Marshal(code))
			if err != nil {
				t.Fatal(err)
			}
			result, err := bytecode.Extract(unit)
			if err != nil {
				t.Fatal(err)
			}
			if len(result.Imports) != 1 {
				t.Fatalf("imports = %+v", result.Imports)
			}
			imp := result.Imports[0]
			if imp.InConditional != tt.wantConditional || imp.InTryExcept != tt.wantTryExcept {
				t.Errorf("import context = conditional %v, try/except %v; want %v, %v",
					imp.InConditional, imp.InTryExcept, tt.wantConditional, tt.wantTryExcept)
			}
		})
	}
}

func TestDecode_NestedFunction(t *testing.T) {
	t.Parallel()

	fn := &pyctest.Code{
		Flags:    0x43,
		Bytecode: []byte{100, 1, 100, 2, 108, 0, 125, 0, 100, 0, 83, 0},
		Consts:   []any{nil, 0, nil},
		Names:    []string{"json"},
		VarNames: []string{"json"},
		Filename: "mod.py",
		Name:     "load",
	}
	mod := pyctest.Module([]byte{100, 0, 100, 1, 132, 0, 90, 0, 100, 2, 83, 0},
		[]any{fn, "load", nil}, "load")

	unit, err := DecodeCode(Version{3, 9}, pyctest.Marshal(mod))
	if err != nil {
		t.Fatal(err)
	}
	children := unit.Children()
	if len(children) != 1 || !children[0].IsFunction() || children[0].Name != "load" {
		t.Fatalf("children = %v", children)
	}
	if store := children[0].Instructions[3]; store.Op != bytecode.OpStoreLocal || store.Name != "json" {
		t.Errorf("STORE_FAST decoded as %+v", store)
	}

	result, err := bytecode.Extract(unit)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Imports) != 1 || !result.Imports[0].InFunction {
		t.Errorf("imports = %+v", result.Imports)
	}
	if result.GlobalsWritten.Has("json") || !result.GlobalsWritten.Has("load") {
		t.Errorf("GlobalsWritten = %v", result.GlobalsWritten.Sorted())
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	badName := pyctest.Module([]byte{90, 3}, nil, "only")
	if _, err := DecodeCode(Version{3, 8}, pyctest.Marshal(badName)); !errors.Is(err, bytecode.ErrMalformedCode) {
		t.Errorf("name index out of range: got %v", err)
	}

	odd := pyctest.Module([]byte{83}, nil)
	if _, err := DecodeCode(Version{3, 8}, pyctest.Marshal(odd)); !errors.Is(err, bytecode.ErrMalformedCode) {
		t.Errorf("odd length: got %v", err)
	}

	if _, err := DecodeCode(Version{3, 8}, []byte{'N'}); !errors.Is(err, ErrMarshal) {
		t.Errorf("non-code object: got %v", err)
	}
	if _, err := DecodeCode(Version{3, 11}, nil); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("unsupported version: got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mod.cpython-310.pyc")
	image := pycImage(t, Version{3, 10}, pyctest.Module([]byte{100, 0, 83, 0}, []any{nil}))
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}
	unit, h, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != (Version{3, 10}) || unit.Name != "<module>" {
		t.Errorf("ReadFile = %v, %+v", unit, h)
	}
}
