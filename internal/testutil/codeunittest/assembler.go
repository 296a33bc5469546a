// SPDX-License-Identifier: MPL-2.0

package codeunittest

import (
	"fmt"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

type (
	// Assembler accumulates instructions for one code unit. Every instruction
	// is two bytes wide, so offsets advance by two.
	Assembler struct {
		unit   *bytecode.CodeUnit
		labels map[string]int
		fixups []fixup
	}

	fixup struct {
		index int
		label string
	}
)

// Module starts a module-level code unit.
func Module(name string) *Assembler {
	return newAssembler(name, 0)
}

// Function starts a function code unit (optimized, new locals).
func Function(name string) *Assembler {
	return newAssembler(name, bytecode.FlagOptimized|bytecode.FlagNewLocals)
}

// Class starts a class body code unit.
func Class(name string) *Assembler {
	return newAssembler(name, 0)
}

func newAssembler(name string, flags bytecode.CodeFlags) *Assembler {
	return &Assembler{
		unit:   &bytecode.CodeUnit{Name: name, Filename: name + ".py", FirstLine: 1, Flags: flags},
		labels: make(map[string]int),
	}
}

func (a *Assembler) emit(op bytecode.Opcode, raw string, ins bytecode.Instruction) *Assembler {
	ins.Offset = 2 * len(a.unit.Instructions)
	ins.Op = op
	ins.Raw = raw
	if ins.Target == 0 {
		ins.Target = -1
	}
	a.unit.Instructions = append(a.unit.Instructions, ins)
	return a
}

func (a *Assembler) jump(op bytecode.Opcode, raw, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.unit.Instructions), label: label})
	return a.emit(op, raw, bytecode.Instruction{})
}

func (a *Assembler) name(op bytecode.Opcode, raw, name string) *Assembler {
	a.unit.Names = append(a.unit.Names, name)
	return a.emit(op, raw, bytecode.Instruction{Arg: len(a.unit.Names) - 1, Name: name})
}

// Const emits LOAD_CONST v.
func (a *Assembler) Const(v any) *Assembler {
	a.unit.Consts = append(a.unit.Consts, v)
	return a.emit(bytecode.OpLoadConst, "LOAD_CONST", bytecode.Instruction{Arg: len(a.unit.Consts) - 1, Const: v})
}

// Import emits the LOAD_CONST level, LOAD_CONST from-list, IMPORT_NAME sequence.
// Without names the from-list constant is None, as for a plain import.
func (a *Assembler) Import(module string, level int, names ...string) *Assembler {
	a.Const(level)
	if len(names) == 0 {
		a.Const(nil)
	} else {
		fromlist := make(bytecode.Tuple, 0, len(names))
		for _, n := range names {
			fromlist = append(fromlist, n)
		}
		a.Const(fromlist)
	}
	return a.name(bytecode.OpImportName, "IMPORT_NAME", module)
}

// ImportFrom emits IMPORT_FROM name.
func (a *Assembler) ImportFrom(name string) *Assembler {
	return a.name(bytecode.OpImportFrom, "IMPORT_FROM", name)
}

// ImportStar emits IMPORT_STAR.
func (a *Assembler) ImportStar() *Assembler {
	return a.emit(bytecode.OpImportStar, "IMPORT_STAR", bytecode.Instruction{})
}

// Store emits STORE_NAME.
func (a *Assembler) Store(name string) *Assembler {
	return a.name(bytecode.OpStoreName, "STORE_NAME", name)
}

// StoreGlobal emits STORE_GLOBAL.
func (a *Assembler) StoreGlobal(name string) *Assembler {
	return a.name(bytecode.OpStoreGlobal, "STORE_GLOBAL", name)
}

// StoreFast emits STORE_FAST.
func (a *Assembler) StoreFast(name string) *Assembler {
	return a.emit(bytecode.OpStoreLocal, "STORE_FAST", bytecode.Instruction{Name: name})
}

// Delete emits DELETE_NAME.
func (a *Assembler) Delete(name string) *Assembler {
	return a.name(bytecode.OpDeleteName, "DELETE_NAME", name)
}

// DeleteGlobal emits DELETE_GLOBAL.
func (a *Assembler) DeleteGlobal(name string) *Assembler {
	return a.name(bytecode.OpDeleteGlobal, "DELETE_GLOBAL", name)
}

// Load emits LOAD_NAME.
func (a *Assembler) Load(name string) *Assembler {
	return a.name(bytecode.OpLoadName, "LOAD_NAME", name)
}

// LoadGlobal emits LOAD_GLOBAL.
func (a *Assembler) LoadGlobal(name string) *Assembler {
	return a.name(bytecode.OpLoadGlobal, "LOAD_GLOBAL", name)
}

// Pop emits POP_TOP.
func (a *Assembler) Pop() *Assembler {
	return a.emit(bytecode.OpPopTop, "POP_TOP", bytecode.Instruction{})
}

// ExceptAll emits the header of a bare "except:" handler, which drops the
// three exception values.
func (a *Assembler) ExceptAll() *Assembler {
	return a.Pop().Pop().Pop()
}

// ExceptMatch emits the header of "except exc:", jumping to label when the
// raised exception does not match.
func (a *Assembler) ExceptMatch(exc, label string) *Assembler {
	a.emit(bytecode.OpOther, "DUP_TOP", bytecode.Instruction{})
	a.Load(exc)
	a.jump(bytecode.OpJumpExcMatch, "JUMP_IF_NOT_EXC_MATCH", label)
	return a.ExceptAll()
}

// PopExcept emits POP_EXCEPT, closing an except handler.
func (a *Assembler) PopExcept() *Assembler {
	return a.emit(bytecode.OpOther, "POP_EXCEPT", bytecode.Instruction{})
}

// Reraise emits RERAISE, the end of a finally handler.
func (a *Assembler) Reraise() *Assembler {
	return a.emit(bytecode.OpOther, "RERAISE", bytecode.Instruction{})
}

// JumpIfFalse emits POP_JUMP_IF_FALSE to label.
func (a *Assembler) JumpIfFalse(label string) *Assembler {
	return a.jump(bytecode.OpJumpConditional, "POP_JUMP_IF_FALSE", label)
}

// JumpForward emits JUMP_FORWARD to label.
func (a *Assembler) JumpForward(label string) *Assembler {
	return a.jump(bytecode.OpJumpForward, "JUMP_FORWARD", label)
}

// JumpAbsolute emits JUMP_ABSOLUTE to label.
func (a *Assembler) JumpAbsolute(label string) *Assembler {
	return a.jump(bytecode.OpJumpAbsolute, "JUMP_ABSOLUTE", label)
}

// SetupFinally emits SETUP_FINALLY with its handler at label.
func (a *Assembler) SetupFinally(label string) *Assembler {
	return a.jump(bytecode.OpSetupFinally, "SETUP_FINALLY", label)
}

// PopBlock emits POP_BLOCK.
func (a *Assembler) PopBlock() *Assembler {
	return a.emit(bytecode.OpOther, "POP_BLOCK", bytecode.Instruction{})
}

// Label marks the offset of the next instruction.
func (a *Assembler) Label(label string) *Assembler {
	a.labels[label] = 2 * len(a.unit.Instructions)
	return a
}

// Nested embeds child as a constant and emits the LOAD_CONST for it.
func (a *Assembler) Nested(child *Assembler) *Assembler {
	return a.Const(child.Build())
}

// Return emits LOAD_CONST None, RETURN_VALUE.
func (a *Assembler) Return() *Assembler {
	a.Const(nil)
	return a.emit(bytecode.OpReturn, "RETURN_VALUE", bytecode.Instruction{})
}

// Build resolves labels and returns the finished code unit. It panics on an
// undefined label: that is a bug in the test itself.
func (a *Assembler) Build() *bytecode.CodeUnit {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("codeunittest: undefined label %q in %s", f.label, a.unit.Name))
		}
		a.unit.Instructions[f.index].Target = target
		a.unit.Instructions[f.index].Arg = target
	}
	a.fixups = nil
	return a.unit
}
