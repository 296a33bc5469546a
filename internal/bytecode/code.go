// SPDX-License-Identifier: MPL-2.0

// Package bytecode models compiled code units and extracts import statements
// and global-name usage from them without executing anything.
//
// Code units are version-independent: decoders (see package pyc) translate a
// concrete interpreter's instruction set into the normalized Opcode values
// below, resolve jump targets to absolute byte offsets, and attach resolved
// names and constants to every instruction.
package bytecode

import "fmt"

// Code flags as recorded in compiled code objects.
const (
	FlagOptimized   CodeFlags = 0x0001
	FlagNewLocals   CodeFlags = 0x0002
	FlagVarargs     CodeFlags = 0x0004
	FlagVarkeywords CodeFlags = 0x0008
	FlagNested      CodeFlags = 0x0010
	FlagGenerator   CodeFlags = 0x0020
	FlagNoFree      CodeFlags = 0x0040
	FlagCoroutine   CodeFlags = 0x0080
)

// Normalized opcodes. Everything the extractor does not care about is OpOther.
const (
	OpOther Opcode = iota
	// OpLoadConst pushes Instruction.Const.
	OpLoadConst
	// OpImportName imports Instruction.Name using the two preceding constants
	// as level and from-list.
	OpImportName
	// OpImportFrom loads attribute Instruction.Name from the imported module.
	OpImportFrom
	// OpImportStar binds every public name of the imported module.
	OpImportStar
	// OpStoreName binds a name in the current namespace (module globals at the top level).
	OpStoreName
	// OpStoreGlobal binds a module global from any scope.
	OpStoreGlobal
	// OpStoreLocal binds a function local or cell variable.
	OpStoreLocal
	// OpDeleteName unbinds a name in the current namespace.
	OpDeleteName
	// OpDeleteGlobal unbinds a module global from any scope.
	OpDeleteGlobal
	// OpLoadName reads a name from the current namespace.
	OpLoadName
	// OpLoadGlobal reads a module global.
	OpLoadGlobal
	// OpJumpForward is an unconditional forward jump.
	OpJumpForward
	// OpJumpAbsolute is an unconditional jump that may go backwards.
	OpJumpAbsolute
	// OpJumpConditional is a jump taken depending on a runtime value.
	OpJumpConditional
	// OpJumpExcMatch is the conditional jump that selects an exception handler clause.
	OpJumpExcMatch
	// OpSetupFinally opens a protected region whose handler starts at Target.
	OpSetupFinally
	// OpReturn returns from the code unit.
	OpReturn
	// OpPopTop discards the top of the stack. Three in a row open a bare
	// except handler.
	OpPopTop
)

var opcodeNames = [...]string{
	OpOther:           "OTHER",
	OpLoadConst:       "LOAD_CONST",
	OpImportName:      "IMPORT_NAME",
	OpImportFrom:      "IMPORT_FROM",
	OpImportStar:      "IMPORT_STAR",
	OpStoreName:       "STORE_NAME",
	OpStoreGlobal:     "STORE_GLOBAL",
	OpStoreLocal:      "STORE_LOCAL",
	OpDeleteName:      "DELETE_NAME",
	OpDeleteGlobal:    "DELETE_GLOBAL",
	OpLoadName:        "LOAD_NAME",
	OpLoadGlobal:      "LOAD_GLOBAL",
	OpJumpForward:     "JUMP_FORWARD",
	OpJumpAbsolute:    "JUMP_ABSOLUTE",
	OpJumpConditional: "JUMP_CONDITIONAL",
	OpJumpExcMatch:    "JUMP_EXC_MATCH",
	OpSetupFinally:    "SETUP_FINALLY",
	OpReturn:          "RETURN",
	OpPopTop:          "POP_TOP",
}

type (
	// CodeFlags is the bit set stored in a code object's flags field.
	CodeFlags uint32

	// Opcode is a normalized instruction kind.
	Opcode uint8

	// Tuple is a constant tuple (used for from-lists and nested constants).
	Tuple []any

	// Instruction is one decoded, normalized instruction.
	Instruction struct {
		// Offset is the byte offset of the instruction inside its code unit.
		Offset int
		// Op is the normalized opcode.
		Op Opcode
		// Raw is the interpreter's own opcode name, kept for diagnostics.
		Raw string
		// Arg is the raw operand after EXTENDED_ARG folding.
		Arg int
		// Target is the absolute byte offset of a jump destination, or -1.
		Target int
		// Name is the resolved name operand for name-bearing instructions.
		Name string
		// Const is the resolved constant for OpLoadConst.
		Const any
	}

	// CodeUnit is a compiled representation of one lexical scope. Nested scopes
	// (functions, classes, comprehensions) appear as *CodeUnit values in Consts.
	CodeUnit struct {
		Name         string
		Filename     string
		FirstLine    int
		Flags        CodeFlags
		Instructions []Instruction
		Consts       []any
		Names        []string
	}
)

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// IsJump reports whether the opcode transfers control to Instruction.Target.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJumpForward, OpJumpAbsolute, OpJumpConditional, OpJumpExcMatch, OpSetupFinally:
		return true
	default:
		return false
	}
}

// IsFunction reports whether the unit is a function-like scope (def, lambda,
// comprehension) whose names are locals rather than namespace entries.
func (c *CodeUnit) IsFunction() bool {
	return c.Flags&FlagOptimized != 0
}

// Children returns the code units nested directly inside c, in constant order.
func (c *CodeUnit) Children() []*CodeUnit {
	var children []*CodeUnit
	for _, k := range c.Consts {
		if child, ok := k.(*CodeUnit); ok {
			children = append(children, child)
		}
	}
	return children
}

// String returns a short description used in logs.
func (c *CodeUnit) String() string {
	if c.Filename == "" {
		return "<code " + c.Name + ">"
	}
	return fmt.Sprintf("<code %s at %s:%d>", c.Name, c.Filename, c.FirstLine)
}
