// SPDX-License-Identifier: MPL-2.0

// Package pyc reads compiled CPython modules (.pyc files and raw marshalled
// code objects) for interpreter versions 3.8, 3.9 and 3.10 and normalizes
// them into bytecode.CodeUnit values.
package pyc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

// HeaderSize is the length of the .pyc header (PEP 552).
const HeaderSize = 16

var (
	// ErrBadMagic is returned when the data does not start with a .pyc magic number.
	ErrBadMagic = errors.New("not a compiled python file")
	// ErrUnsupportedVersion is returned for magic numbers or versions outside 3.8-3.10.
	ErrUnsupportedVersion = errors.New("unsupported python version")
	// ErrMarshal is the sentinel wrapped by MarshalError.
	ErrMarshal = errors.New("invalid marshal data")

	// Supported lists the interpreter versions this package can decode, oldest first.
	Supported = []Version{{3, 8}, {3, 9}, {3, 10}}

	// magics maps each supported version to the magic number of its final release.
	magics = map[Version]uint16{
		{3, 8}:  3413,
		{3, 9}:  3425,
		{3, 10}: 3439,
	}
)

type (
	// Version is an interpreter major.minor version.
	Version struct {
		Major int
		Minor int
	}

	// Header is the decoded 16-byte .pyc header.
	Header struct {
		Magic   uint16
		Version Version
		Flags   uint32
		// Mtime and SourceSize are set for timestamp-based files.
		Mtime      uint32
		SourceSize uint32
		// SourceHash is set for hash-based files (Flags bit 0).
		SourceHash [8]byte
	}
)

// ParseVersion parses "3.9" (a leading "v" or a patch component are accepted).
func ParseVersion(s string) (Version, error) {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(s), "v")
	if !semver.IsValid(v) {
		return Version{}, fmt.Errorf("%w: %q is not a version", ErrUnsupportedVersion, s)
	}
	parts := strings.Split(strings.TrimPrefix(semver.MajorMinor(v), "v"), ".")
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	version := Version{Major: major, Minor: minor}
	if _, ok := magics[version]; !ok {
		return Version{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	return version, nil
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Tag returns the cache tag used in __pycache__ file names ("cpython-39").
func (v Version) Tag() string { return fmt.Sprintf("cpython-%d%d", v.Major, v.Minor) }

// AtLeast reports whether v is the same as or newer than other.
func (v Version) AtLeast(other Version) bool {
	return semver.Compare(v.semver(), other.semver()) >= 0
}

func (v Version) semver() string { return fmt.Sprintf("v%d.%d.0", v.Major, v.Minor) }

// Magic returns the magic number written by v.
func (v Version) Magic() (uint16, error) {
	m, ok := magics[v]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return m, nil
}

// VersionForMagic maps a magic number to its interpreter version. Every
// pre-release magic of a supported version is accepted.
func VersionForMagic(magic uint16) (Version, error) {
	switch {
	case magic >= 3400 && magic <= 3419:
		return Version{3, 8}, nil
	case magic >= 3420 && magic <= 3429:
		return Version{3, 9}, nil
	case magic >= 3430 && magic <= 3439:
		return Version{3, 10}, nil
	default:
		return Version{}, fmt.Errorf("%w: magic number %d", ErrUnsupportedVersion, magic)
	}
}

// HashBased reports whether the file records a source hash instead of an mtime.
func (h Header) HashBased() bool { return h.Flags&0x1 != 0 }

// ParseHeader decodes the .pyc header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize || data[2] != '\r' || data[3] != '\n' {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Magic: binary.LittleEndian.Uint16(data[0:2]),
		Flags: binary.LittleEndian.Uint32(data[4:8]),
	}
	version, err := VersionForMagic(h.Magic)
	if err != nil {
		return Header{}, err
	}
	h.Version = version
	if h.HashBased() {
		copy(h.SourceHash[:], data[8:16])
	} else {
		h.Mtime = binary.LittleEndian.Uint32(data[8:12])
		h.SourceSize = binary.LittleEndian.Uint32(data[12:16])
	}
	return h, nil
}

// Decode parses a complete .pyc image.
func Decode(data []byte) (*bytecode.CodeUnit, Header, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, Header{}, err
	}
	unit, err := DecodeCode(h.Version, data[HeaderSize:])
	if err != nil {
		return nil, Header{}, err
	}
	return unit, h, nil
}

// ReadFile reads and decodes the .pyc file at path.
func ReadFile(path string) (*bytecode.CodeUnit, Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Header{}, err
	}
	unit, h, err := Decode(data)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return unit, h, nil
}

// DecodeCode unmarshals a code object written by interpreter version v.
func DecodeCode(v Version, marshalled []byte) (*bytecode.CodeUnit, error) {
	if _, ok := magics[v]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	obj, err := Unmarshal(marshalled)
	if err != nil {
		return nil, err
	}
	code, ok := obj.(*Code)
	if !ok {
		return nil, &MarshalError{Reason: fmt.Sprintf("top-level object is %T, want code", obj)}
	}
	return normalize(v, code)
}

func normalize(v Version, code *Code) (*bytecode.CodeUnit, error) {
	consts := make([]any, 0, len(code.Consts))
	for _, c := range code.Consts {
		converted, err := convertConst(v, c)
		if err != nil {
			return nil, err
		}
		consts = append(consts, converted)
	}

	unit := &bytecode.CodeUnit{
		Name:      code.Name,
		Filename:  code.Filename,
		FirstLine: code.FirstLine,
		Flags:     bytecode.CodeFlags(code.Flags),
		Consts:    consts,
		Names:     code.Names,
	}
	instructions, err := decodeInstructions(v, code, consts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", unit, err)
	}
	unit.Instructions = instructions
	return unit, nil
}

// convertConst maps marshal values onto the types the extractor inspects:
// code objects become code units and tuples become bytecode.Tuple.
func convertConst(v Version, c any) (any, error) {
	switch c := c.(type) {
	case *Code:
		return normalize(v, c)
	case Tuple:
		out := make(bytecode.Tuple, 0, len(c))
		for _, item := range c {
			converted, err := convertConst(v, item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	default:
		return c, nil
	}
}

func decodeInstructions(v Version, code *Code, consts []any) ([]bytecode.Instruction, error) {
	raw := code.Bytecode
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd bytecode length %d", bytecode.ErrMalformedCode, len(raw))
	}

	table := table38
	switch {
	case v.AtLeast(Version{3, 10}):
		table = table310
	case v.AtLeast(Version{3, 9}):
		table = table39
	}
	// From 3.10 on, jump arguments count instructions rather than bytes.
	scale := 1
	if v.AtLeast(Version{3, 10}) {
		scale = 2
	}
	derefs := append(append([]string(nil), code.CellVars...), code.FreeVars...)

	instructions := make([]bytecode.Instruction, 0, len(raw)/2)
	extended, start := 0, -1
	for off := 0; off < len(raw); off += 2 {
		opcode := raw[off]
		arg := extended | int(raw[off+1])
		if opcode == opExtendedArg {
			extended = arg << 8
			if start < 0 {
				start = off
			}
			continue
		}
		extended = 0
		insOffset := off
		if start >= 0 {
			insOffset, start = start, -1
		}

		info := table.lookup(opcode)
		ins := bytecode.Instruction{
			Offset: insOffset,
			Op:     info.op,
			Raw:    info.name,
			Arg:    arg,
			Target: -1,
		}
		switch info.jump {
		case jumpRelative:
			ins.Target = off + 2 + arg*scale
		case jumpAbsolute:
			ins.Target = arg * scale
		}

		var err error
		switch info.operand {
		case operandName:
			ins.Name, err = pick(code.Names, arg, "co_names", info.name, off)
		case operandLocal:
			ins.Name, err = pick(code.VarNames, arg, "co_varnames", info.name, off)
		case operandDeref:
			ins.Name, err = pick(derefs, arg, "cell/free vars", info.name, off)
		case operandConst:
			if arg >= len(consts) {
				err = fmt.Errorf("%w: %s at offset %d: const index %d out of range",
					bytecode.ErrMalformedCode, info.name, off, arg)
			} else {
				ins.Const = consts[arg]
			}
		}
		if err != nil {
			return nil, err
		}

		// 3.8 spells "except E:" as COMPARE_OP exception-match + POP_JUMP_IF_FALSE.
		if n := len(instructions); n > 0 && ins.Raw == "POP_JUMP_IF_FALSE" {
			prev := instructions[n-1]
			if prev.Raw == "COMPARE_OP" && prev.Arg == compareExcMatch {
				ins.Op = bytecode.OpJumpExcMatch
			}
		}
		instructions = append(instructions, ins)
	}
	return instructions, nil
}

func pick(names []string, idx int, table, op string, off int) (string, error) {
	if idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("%w: %s at offset %d: %s index %d out of range",
			bytecode.ErrMalformedCode, op, off, table, idx)
	}
	return names[idx], nil
}
