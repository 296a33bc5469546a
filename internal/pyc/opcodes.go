// SPDX-License-Identifier: MPL-2.0

package pyc

import (
	"maps"
	"strconv"

	"github.com/invowk/pyfreeze/internal/bytecode"
)

const (
	opExtendedArg = 144

	// compareExcMatch is the COMPARE_OP argument used by 3.8 except clauses.
	compareExcMatch = 10
)

const (
	jumpNone jumpKind = iota
	// jumpRelative arguments count from the next instruction.
	jumpRelative
	// jumpAbsolute arguments are positions within the code unit.
	jumpAbsolute
)

const (
	operandNone operandKind = iota
	operandName
	operandLocal
	operandDeref
	operandConst
)

type (
	jumpKind    uint8
	operandKind uint8

	opInfo struct {
		name    string
		op      bytecode.Opcode
		jump    jumpKind
		operand operandKind
	}

	opTable map[byte]opInfo
)

// table38 lists the CPython 3.8 instruction set. Opcodes the extractor does
// not interpret are kept by name for diagnostics only.
var table38 = opTable{
	1: {name: "POP_TOP", op: bytecode.OpPopTop}, 2: {name: "ROT_TWO"}, 3: {name: "ROT_THREE"}, 4: {name: "DUP_TOP"},
	5: {name: "DUP_TOP_TWO"}, 6: {name: "ROT_FOUR"}, 9: {name: "NOP"},
	10: {name: "UNARY_POSITIVE"}, 11: {name: "UNARY_NEGATIVE"}, 12: {name: "UNARY_NOT"},
	15: {name: "UNARY_INVERT"}, 16: {name: "BINARY_MATRIX_MULTIPLY"}, 17: {name: "INPLACE_MATRIX_MULTIPLY"},
	19: {name: "BINARY_POWER"}, 20: {name: "BINARY_MULTIPLY"}, 22: {name: "BINARY_MODULO"},
	23: {name: "BINARY_ADD"}, 24: {name: "BINARY_SUBTRACT"}, 25: {name: "BINARY_SUBSCR"},
	26: {name: "BINARY_FLOOR_DIVIDE"}, 27: {name: "BINARY_TRUE_DIVIDE"},
	28: {name: "INPLACE_FLOOR_DIVIDE"}, 29: {name: "INPLACE_TRUE_DIVIDE"},
	50: {name: "GET_AITER"}, 51: {name: "GET_ANEXT"}, 52: {name: "BEFORE_ASYNC_WITH"},
	53: {name: "BEGIN_FINALLY"}, 54: {name: "END_ASYNC_FOR"},
	55: {name: "INPLACE_ADD"}, 56: {name: "INPLACE_SUBTRACT"}, 57: {name: "INPLACE_MULTIPLY"},
	59: {name: "INPLACE_MODULO"}, 60: {name: "STORE_SUBSCR"}, 61: {name: "DELETE_SUBSCR"},
	62: {name: "BINARY_LSHIFT"}, 63: {name: "BINARY_RSHIFT"}, 64: {name: "BINARY_AND"},
	65: {name: "BINARY_XOR"}, 66: {name: "BINARY_OR"}, 67: {name: "INPLACE_POWER"},
	68: {name: "GET_ITER"}, 69: {name: "GET_YIELD_FROM_ITER"}, 70: {name: "PRINT_EXPR"},
	71: {name: "LOAD_BUILD_CLASS"}, 72: {name: "YIELD_FROM"}, 73: {name: "GET_AWAITABLE"},
	75: {name: "INPLACE_LSHIFT"}, 76: {name: "INPLACE_RSHIFT"}, 77: {name: "INPLACE_AND"},
	78: {name: "INPLACE_XOR"}, 79: {name: "INPLACE_OR"},
	81: {name: "WITH_CLEANUP_START"}, 82: {name: "WITH_CLEANUP_FINISH"},
	83: {name: "RETURN_VALUE", op: bytecode.OpReturn},
	84: {name: "IMPORT_STAR", op: bytecode.OpImportStar},
	85: {name: "SETUP_ANNOTATIONS"}, 86: {name: "YIELD_VALUE"}, 87: {name: "POP_BLOCK"},
	88: {name: "END_FINALLY"}, 89: {name: "POP_EXCEPT"},
	90: {name: "STORE_NAME", op: bytecode.OpStoreName, operand: operandName},
	91: {name: "DELETE_NAME", op: bytecode.OpDeleteName, operand: operandName},
	92: {name: "UNPACK_SEQUENCE"},
	93: {name: "FOR_ITER", jump: jumpRelative},
	94: {name: "UNPACK_EX"},
	95: {name: "STORE_ATTR", operand: operandName},
	96: {name: "DELETE_ATTR", operand: operandName},
	97: {name: "STORE_GLOBAL", op: bytecode.OpStoreGlobal, operand: operandName},
	98: {name: "DELETE_GLOBAL", op: bytecode.OpDeleteGlobal, operand: operandName},
	100: {name: "LOAD_CONST", op: bytecode.OpLoadConst, operand: operandConst},
	101: {name: "LOAD_NAME", op: bytecode.OpLoadName, operand: operandName},
	102: {name: "BUILD_TUPLE"}, 103: {name: "BUILD_LIST"}, 104: {name: "BUILD_SET"},
	105: {name: "BUILD_MAP"},
	106: {name: "LOAD_ATTR", operand: operandName},
	107: {name: "COMPARE_OP"},
	108: {name: "IMPORT_NAME", op: bytecode.OpImportName, operand: operandName},
	109: {name: "IMPORT_FROM", op: bytecode.OpImportFrom, operand: operandName},
	110: {name: "JUMP_FORWARD", op: bytecode.OpJumpForward, jump: jumpRelative},
	111: {name: "JUMP_IF_FALSE_OR_POP", op: bytecode.OpJumpConditional, jump: jumpAbsolute},
	112: {name: "JUMP_IF_TRUE_OR_POP", op: bytecode.OpJumpConditional, jump: jumpAbsolute},
	113: {name: "JUMP_ABSOLUTE", op: bytecode.OpJumpAbsolute, jump: jumpAbsolute},
	114: {name: "POP_JUMP_IF_FALSE", op: bytecode.OpJumpConditional, jump: jumpAbsolute},
	115: {name: "POP_JUMP_IF_TRUE", op: bytecode.OpJumpConditional, jump: jumpAbsolute},
	116: {name: "LOAD_GLOBAL", op: bytecode.OpLoadGlobal, operand: operandName},
	122: {name: "SETUP_FINALLY", op: bytecode.OpSetupFinally, jump: jumpRelative},
	124: {name: "LOAD_FAST", operand: operandLocal},
	125: {name: "STORE_FAST", op: bytecode.OpStoreLocal, operand: operandLocal},
	126: {name: "DELETE_FAST", operand: operandLocal},
	130: {name: "RAISE_VARARGS"}, 131: {name: "CALL_FUNCTION"}, 132: {name: "MAKE_FUNCTION"},
	133: {name: "BUILD_SLICE"},
	135: {name: "LOAD_CLOSURE", operand: operandDeref},
	136: {name: "LOAD_DEREF", operand: operandDeref},
	137: {name: "STORE_DEREF", op: bytecode.OpStoreLocal, operand: operandDeref},
	138: {name: "DELETE_DEREF", operand: operandDeref},
	141: {name: "CALL_FUNCTION_KW"}, 142: {name: "CALL_FUNCTION_EX"},
	143: {name: "SETUP_WITH", jump: jumpRelative},
	144: {name: "EXTENDED_ARG"},
	145: {name: "LIST_APPEND"}, 146: {name: "SET_ADD"}, 147: {name: "MAP_ADD"},
	148: {name: "LOAD_CLASSDEREF", operand: operandDeref},
	149: {name: "BUILD_LIST_UNPACK"}, 150: {name: "BUILD_MAP_UNPACK"},
	151: {name: "BUILD_MAP_UNPACK_WITH_CALL"}, 152: {name: "BUILD_TUPLE_UNPACK"},
	153: {name: "BUILD_SET_UNPACK"},
	154: {name: "SETUP_ASYNC_WITH", jump: jumpRelative},
	155: {name: "FORMAT_VALUE"}, 156: {name: "BUILD_CONST_KEY_MAP"}, 157: {name: "BUILD_STRING"},
	158: {name: "BUILD_TUPLE_UNPACK_WITH_CALL"},
	160: {name: "LOAD_METHOD", operand: operandName},
	161: {name: "CALL_METHOD"},
	162: {name: "CALL_FINALLY", jump: jumpRelative},
	163: {name: "POP_FINALLY"},
}

// table39 applies the 3.9 changes: the finally-block opcodes and the
// *_UNPACK builders are gone, exception matching has its own jump.
var table39 = derive(table38,
	[]byte{53, 81, 82, 88, 149, 150, 151, 152, 153, 158, 162, 163},
	opTable{
		48:  {name: "RERAISE"},
		49:  {name: "WITH_EXCEPT_START"},
		74:  {name: "LOAD_ASSERTION_ERROR"},
		82:  {name: "LIST_TO_TUPLE"},
		117: {name: "IS_OP"},
		118: {name: "CONTAINS_OP"},
		121: {name: "JUMP_IF_NOT_EXC_MATCH", op: bytecode.OpJumpExcMatch, jump: jumpAbsolute},
		162: {name: "LIST_EXTEND"},
		163: {name: "SET_UPDATE"},
		164: {name: "DICT_MERGE"},
		165: {name: "DICT_UPDATE"},
	})

// table310 adds pattern matching support. Jump arguments change unit, which
// the decoder handles separately.
var table310 = derive(table39, nil, opTable{
	30:  {name: "GET_LEN"},
	31:  {name: "MATCH_MAPPING"},
	32:  {name: "MATCH_SEQUENCE"},
	33:  {name: "MATCH_KEYS"},
	34:  {name: "COPY_DICT_WITHOUT_KEYS"},
	99:  {name: "ROT_N"},
	129: {name: "GEN_START"},
	152: {name: "MATCH_CLASS"},
})

func derive(base opTable, removed []byte, added opTable) opTable {
	t := maps.Clone(base)
	for _, op := range removed {
		delete(t, op)
	}
	maps.Copy(t, added)
	return t
}

func (t opTable) lookup(op byte) opInfo {
	if info, ok := t[op]; ok {
		return info
	}
	return opInfo{name: "<" + strconv.Itoa(int(op)) + ">"}
}
