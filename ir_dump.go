// ir_dump.go - textual IR dumper (component D)
//
// Rendering convention lifted directly from debug_disasm_x86.go's
// mnemonic+operand text builder: `[base + index*scale + displacement]`
// for memory operands, sentinel bases omitted.
//
// License: GPLv3 or later

package jit

import (
	"fmt"
	"strings"
)

var condNames = [16]string{
	"O", "NO", "B", "NB", "Z", "NZ", "BE", "A",
	"S", "NS", "P", "NP", "L", "GE", "LE", "G",
}

func (c CondCode) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "?"
}

// DumpOperand renders a single IR operand using the decoder's memory
// operand grammar.
func DumpOperand(o IROperand) string {
	switch o.Kind {
	case OperandReg:
		return fmt.Sprintf("v%d:%s", o.VReg, dumpDataType(o.Type))
	case OperandImm:
		return fmt.Sprintf("0x%X", o.ImmValue)
	case OperandLabel:
		return fmt.Sprintf("L%d", o.Label)
	case OperandMem:
		var parts []string
		if o.BaseVReg != NoVReg {
			parts = append(parts, fmt.Sprintf("v%d", o.BaseVReg))
		}
		if o.IndexVReg != NoVReg {
			parts = append(parts, fmt.Sprintf("v%d*%d", o.IndexVReg, o.Scale))
		}
		inner := strings.Join(parts, " + ")
		if o.Disp != 0 {
			if inner != "" {
				if o.Disp > 0 {
					inner += fmt.Sprintf(" + 0x%X", o.Disp)
				} else {
					inner += fmt.Sprintf(" - 0x%X", -o.Disp)
				}
			} else {
				inner = fmt.Sprintf("0x%X", uint32(o.Disp))
			}
		}
		return fmt.Sprintf("[%s]", inner)
	}
	return "?"
}

func dumpDataType(t DataType) string {
	switch t {
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeF80:
		return "f80"
	case TypePtr:
		return "ptr"
	default:
		return "?"
	}
}

// DumpInstr renders one IR instruction as "OPCODE op, op, op".
func DumpInstr(i IRInstr) string {
	var sb strings.Builder
	sb.WriteString(i.Op.String())
	if i.Op == OpJcc {
		sb.WriteString(".")
		sb.WriteString(i.Cond.String())
	}
	for idx, o := range i.Operands {
		if idx == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(DumpOperand(o))
	}
	return sb.String()
}

// DumpBlock renders a basic block as one instruction per line, prefixed
// with its ID the way the teacher's disassembler prefixes addresses.
func DumpBlock(b *BasicBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block%d:\n", b.ID)
	for _, instr := range b.Instrs {
		sb.WriteString("  ")
		sb.WriteString(DumpInstr(instr))
		sb.WriteString("\n")
	}
	return sb.String()
}

// DumpFunction renders every block of a function in order.
func DumpFunction(f *IRFunction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function @0x%08X:\n", f.EntryGuestAddr)
	for _, b := range f.Blocks {
		sb.WriteString(DumpBlock(b))
	}
	return sb.String()
}
