// SPDX-License-Identifier: MPL-2.0

package bytecode

import (
	"errors"
	"fmt"
	"slices"
)

// ErrMalformedCode is returned when an instruction stream does not have the
// shape the compiler always produces (e.g. an import without its operands).
var ErrMalformedCode = errors.New("malformed code unit")

type (
	// ImportInfo is one import statement found by the extractor. It carries no
	// resolution: Name is exactly what the statement wrote.
	ImportInfo struct {
		// Name is the module name operand ("" for "from . import x").
		Name string `json:"name" yaml:"name"`
		// Level is the relative-import level (0 = absolute).
		Level int `json:"level" yaml:"level"`
		// Names is the from-list in source order; empty for plain and star imports.
		Names []string `json:"names,omitempty" yaml:"names,omitempty"`
		// StarImport is set for "from m import *".
		StarImport bool `json:"star_import,omitempty" yaml:"star_import,omitempty"`
		// Binding is the local name bound by a plain import ("c" in "import a.b as c").
		Binding string `json:"binding,omitempty" yaml:"binding,omitempty"`
		// NameBindings maps from-list names to the local names they were bound to.
		NameBindings map[string]string `json:"name_bindings,omitempty" yaml:"name_bindings,omitempty"`

		InFunction    bool `json:"in_function,omitempty" yaml:"in_function,omitempty"`
		InConditional bool `json:"in_conditional,omitempty" yaml:"in_conditional,omitempty"`
		InTryExcept   bool `json:"in_tryexcept,omitempty" yaml:"in_tryexcept,omitempty"`

		// Scope is the name of the code unit holding the statement.
		Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
		// Offset is the byte offset of the import instruction within Scope.
		Offset int `json:"offset" yaml:"offset"`
	}

	// ScanResult is everything the extractor learns from one outermost code unit.
	ScanResult struct {
		Imports        []ImportInfo `json:"imports" yaml:"imports"`
		GlobalsWritten NameSet      `json:"globals_written" yaml:"globals_written"`
		GlobalsRead    NameSet      `json:"globals_read" yaml:"globals_read"`
	}

	// frame is one pending code unit on the extraction work list.
	frame struct {
		unit       *CodeUnit
		outermost  bool
		inFunction bool
	}

	// region is a half-open byte range [start, end) of a code unit.
	region struct {
		end int
	}

	// regionStack tracks possibly overlapping regions that expire by offset.
	regionStack []region

	// pendingImport remembers the latest import so the following stores can
	// be attributed to it.
	pendingImport struct {
		index    int
		fromName string
		active   bool
	}
)

// IsRelative reports whether the import is relative.
func (i ImportInfo) IsRelative() bool { return i.Level > 0 }

// IsFromImport reports whether the statement was "from ... import ...".
func (i ImportInfo) IsFromImport() bool { return len(i.Names) > 0 || i.StarImport }

// String renders the statement in source-like form.
func (i ImportInfo) String() string {
	dots := ""
	for range i.Level {
		dots += "."
	}
	switch {
	case i.StarImport:
		return fmt.Sprintf("from %s%s import *", dots, i.Name)
	case len(i.Names) > 0:
		return fmt.Sprintf("from %s%s import %v", dots, i.Name, i.Names)
	default:
		return "import " + dots + i.Name
	}
}

func (s *regionStack) expire(offset int) {
	kept := (*s)[:0]
	for _, r := range *s {
		if offset < r.end {
			kept = append(kept, r)
		}
	}
	*s = kept
}

func (s *regionStack) push(end int) { *s = append(*s, region{end: end}) }

func (s regionStack) active() bool { return len(s) > 0 }

func (s regionStack) endsAt(offset int) bool {
	for _, r := range s {
		if r.end == offset {
			return true
		}
	}
	return false
}

// Extract scans unit and every code unit nested in it. Imports are returned in
// pre-order (outer statements before the bodies of nested scopes). The global
// name sets describe the outermost unit only: names bound inside nested scopes
// are locals and are ignored, except for explicit global stores.
func Extract(unit *CodeUnit) (*ScanResult, error) {
	if unit == nil {
		return nil, fmt.Errorf("%w: nil code unit", ErrMalformedCode)
	}

	result := &ScanResult{
		GlobalsWritten: make(NameSet),
		GlobalsRead:    make(NameSet),
	}

	stack := []frame{{unit: unit, outermost: true}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := scanUnit(f, result); err != nil {
			return nil, err
		}

		children := f.unit.Children()
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			stack = append(stack, frame{
				unit:       child,
				inFunction: f.inFunction || child.IsFunction(),
			})
		}
	}

	return result, nil
}

// scanUnit linearly scans one code unit.
func scanUnit(f frame, result *ScanResult) error {
	var (
		conditional regionStack
		protected   regionStack
		pending     pendingImport
	)

	instructions := f.unit.Instructions
	for i, ins := range instructions {
		conditional.expire(ins.Offset)
		protected.expire(ins.Offset)

		next := ins.Offset + 2
		if i+1 < len(instructions) {
			next = instructions[i+1].Offset
		}

		switch ins.Op {
		case OpJumpConditional:
			switch {
			case ins.Target > ins.Offset:
				conditional.push(ins.Target)
			case ins.Target >= 0:
				// An if closing a loop body jumps back to the loop head when
				// false; its body runs up to the loop's closing jump.
				if end, ok := loopEnd(instructions, i, ins.Target); ok {
					conditional.push(end)
				}
			}

		case OpSetupFinally:
			// try/finally opens the same block; only except handlers mark
			// the body as tolerant of failures.
			if ins.Target > ins.Offset && handlesExceptions(instructions, ins.Target) {
				protected.push(ins.Target)
			}

		case OpJumpForward, OpJumpAbsolute:
			// A forward jump that closes a region skips over the code that is
			// the region's alternative: the else branch of an if, or the
			// handlers of a try. That code shares the region's context.
			if ins.Target > next {
				if conditional.endsAt(next) {
					conditional.push(ins.Target)
				}
				if protected.endsAt(next) {
					protected.push(ins.Target)
				}
			}
			// Inside a loop the if branch returns to the loop head instead,
			// and the else branch runs up to the loop's closing jump.
			if ins.Op == OpJumpAbsolute && ins.Target < ins.Offset && conditional.endsAt(next) {
				if end, ok := loopEnd(instructions, i, ins.Target); ok && end > next {
					conditional.push(end)
				}
			}

		case OpImportName:
			info, err := importInfo(f, instructions, i)
			if err != nil {
				return err
			}
			info.InConditional = conditional.active()
			info.InTryExcept = protected.active()
			result.Imports = append(result.Imports, info)
			pending = pendingImport{index: len(result.Imports) - 1, active: true}

		case OpImportFrom:
			if pending.active {
				pending.fromName = ins.Name
			}

		case OpImportStar:
			pending = pendingImport{}

		case OpStoreName, OpStoreGlobal, OpStoreLocal:
			if pending.active {
				bindImport(&result.Imports[pending.index], &pending, ins.Name)
			}
			if ins.Op == OpStoreGlobal || (f.outermost && ins.Op == OpStoreName) {
				result.GlobalsWritten.Add(ins.Name)
			}

		case OpDeleteName, OpDeleteGlobal:
			if ins.Op == OpDeleteGlobal || f.outermost {
				result.GlobalsWritten.Remove(ins.Name)
			}

		case OpLoadName, OpLoadGlobal:
			if f.outermost {
				result.GlobalsRead.Add(ins.Name)
			}
		}
	}

	return nil
}

// loopEnd returns the offset just past the last jump back to head after
// instruction i, which closes the loop whose body contains i.
func loopEnd(instructions []Instruction, i, head int) (int, bool) {
	end, found := 0, false
	for _, ins := range instructions[i+1:] {
		if ins.Op == OpJumpAbsolute && ins.Target == head {
			end, found = ins.Offset+2, true
		}
	}
	return end, found
}

// handlesExceptions reports whether the handler at offset target belongs to
// an except clause: either a bare except, which drops the three exception
// values first, or a clause whose first jump is an exception match. A
// finally handler starts with the finally body instead.
func handlesExceptions(instructions []Instruction, target int) bool {
	start, ok := slices.BinarySearchFunc(instructions, target, func(ins Instruction, off int) int {
		return ins.Offset - off
	})
	if !ok {
		return false
	}
	handler := instructions[start:]
	if len(handler) >= 3 && handler[0].Op == OpPopTop && handler[1].Op == OpPopTop && handler[2].Op == OpPopTop {
		return true
	}
	for _, ins := range handler {
		if ins.Op.IsJump() || ins.Op == OpReturn {
			return ins.Op == OpJumpExcMatch
		}
	}
	return false
}

// bindImport records the local name a store attaches to the pending import.
func bindImport(info *ImportInfo, pending *pendingImport, name string) {
	if info.IsFromImport() {
		if pending.fromName == "" {
			return
		}
		if info.NameBindings == nil {
			info.NameBindings = make(map[string]string)
		}
		info.NameBindings[pending.fromName] = name
		pending.fromName = ""
		return
	}
	// "import a.b as c" walks attributes with IMPORT_FROM before the single store.
	info.Binding = name
	*pending = pendingImport{}
}

// importInfo decodes the import at index i. The compiler always emits the
// level and from-list as the two constants loaded right before IMPORT_NAME.
func importInfo(f frame, instructions []Instruction, i int) (ImportInfo, error) {
	ins := instructions[i]
	if i < 2 || instructions[i-2].Op != OpLoadConst || instructions[i-1].Op != OpLoadConst {
		return ImportInfo{}, fmt.Errorf("%w: %s at offset %d: import of %q without level and from-list",
			ErrMalformedCode, f.unit.Name, ins.Offset, ins.Name)
	}

	level, ok := asInt(instructions[i-2].Const)
	if !ok || level < 0 {
		return ImportInfo{}, fmt.Errorf("%w: %s at offset %d: import level %v is not a non-negative integer",
			ErrMalformedCode, f.unit.Name, ins.Offset, instructions[i-2].Const)
	}

	info := ImportInfo{
		Name:       ins.Name,
		Level:      level,
		InFunction: f.inFunction,
		Scope:      f.unit.Name,
		Offset:     ins.Offset,
	}

	switch fromlist := instructions[i-1].Const.(type) {
	case nil:
	case Tuple:
		seen := make(map[string]bool, len(fromlist))
		for _, item := range fromlist {
			name, ok := item.(string)
			if !ok {
				return ImportInfo{}, fmt.Errorf("%w: %s at offset %d: from-list entry %v is not a string",
					ErrMalformedCode, f.unit.Name, ins.Offset, item)
			}
			if name == "*" {
				info.StarImport = true
				continue
			}
			if !seen[name] {
				seen[name] = true
				info.Names = append(info.Names, name)
			}
		}
		if info.StarImport {
			info.Names = nil
		}
	default:
		return ImportInfo{}, fmt.Errorf("%w: %s at offset %d: from-list %v is not a tuple",
			ErrMalformedCode, f.unit.Name, ins.Offset, fromlist)
	}

	return info, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	default:
		return 0, false
	}
}
