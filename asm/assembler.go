// Copyright 2025, Daniel Anker Hermansen

// Package asm is a single pass macro assembler for the reference encoding.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
	"github.com/Daniel-Anker-Hermansen/x86rs/isa"
)

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO":          "0",
	"MAX_INSTRUCTION": fmt.Sprintf("%v", cpu.MAX_INSTRUCTION),
}

// Assembler is a single pass macro assembler. Label references are encoded
// in fixed length forms, and patched once all labels are known.
type Assembler struct {
	Verbose bool     // If set, verbosely logs the assembler actions.
	Opcode  []Opcode // List of generated opcodes.

	predefine map[string]string   // Predefines
	Label     map[string]uint64   // Map of labels to addresses.
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.

	ip         uint64 // Address of the next opcode.
	expansions int    // Macro expansions so far, for @ labels.
}

// Predefine defines a new equate or redefines an existing equate, for all
// subsequent calls to Parse.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// registerMap is a map of register names to register numbers.
var registerMap = map[string]int{
	"r0":  0,
	"r1":  1,
	"r2":  2,
	"r3":  3,
	"r4":  4,
	"r5":  5,
	"r6":  6,
	"r7":  7,
	"r8":  8,
	"r9":  9,
	"r10": 10,
	"r11": 11,
	"r12": 12,
	"r13": 13,
	"r14": 14,
	"r15": 15,
	"sp":  arch.REGISTER_SP,
}

// widthMap maps mnemonic suffixes to operand widths.
var widthMap = map[string]arch.Width{
	"b": arch.WIDTH_8,
	"w": arch.WIDTH_16,
	"d": arch.WIDTH_32,
	"q": arch.WIDTH_64,
}

// dataMap maps data directives to their element widths.
var dataMap = map[string]arch.Width{
	".byte":  arch.WIDTH_8,
	".word":  arch.WIDTH_16,
	".dword": arch.WIDTH_32,
	".quad":  arch.WIDTH_64,
}

var labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// linker encodes instructions whose length must not depend on label values.
var linker = &isa.Encoder{Long: true}

// fits returns true if value is representable in width, either unsigned or
// sign extended.
func fits(value uint64, width arch.Width) bool {
	mask := width.Mask()
	return value&^mask == 0 || value|mask>>1 == ^uint64(0)
}

// valueOf returns the value of a simple word.
func (asm *Assembler) valueOf(word string) (value uint64, err error) {
	if len(word) == 0 {
		err = ErrParseNumber(word)
		return
	}

	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}

	negate := false
	if len(word) > 0 && word[0] == '-' {
		negate = true
		word = word[1:]
	}

	if len(word) > 0 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(strings.Trim(word, "'"))
		return
	}

	value, err = strconv.ParseUint(word, 0, 64)
	if err != nil {
		err = ErrParseNumber(word)
		return
	}

	if negate {
		value = -value
	}

	if invert {
		value = ^value
	}

	return
}

// parenEval does compile-time $(...) evaluations. Integer equates, and the
// labels defined so far, are in scope.
func (asm *Assembler) parenEval(expr string) (value uint64, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, addr := range asm.Label {
		pred[key] = starlark.MakeUint64(addr)
	}
	for key, str := range asm.Equate {
		var value64 uint64
		value64, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			err = nil
			continue
		}
		pred[key] = starlark.MakeUint64(value64)
	}
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	if st_int64, ok := st_int.Int64(); ok {
		value = uint64(st_int64)
		return
	}
	value, ok = st_int.Uint64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	return
}

// parseLine parses a single line into words, handling equates, labels and
// macro expansion.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	// Do 'x' evaluations
	re := regexp.MustCompile(`'\\?[^']'`)
	line = re.ReplaceAllStringFunc(line, func(word string) string {
		str := word[1 : len(word)-1]
		if str[0] == '\\' {
			str = str[1:]
			switch str {
			case "\\":
				str = "\\"
			case "n":
				str = "\n"
			case "r":
				str = "\r"
			case "e":
				str = "\033"
			case "0":
				str = "\000"
			default:
				return word
			}
		} else if len(str) != 1 {
			return word
		}
		return fmt.Sprintf("%v", str[0])
	})

	// Do $() evaluations
	re = regexp.MustCompile(`\$\([^\$]*\)`)
	line = re.ReplaceAllStringFunc(line, func(str string) string {
		value, _err := asm.parenEval(str[2 : len(str)-1])
		if _err != nil {
			err = _err
		}
		return fmt.Sprintf("%#x", value)
	})
	if err != nil {
		return
	}

	words = strings.Fields(strings.ReplaceAll(line, ",", " "))

	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE
	if words[0] == ".equ" {
		if len(words) != 3 {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		if ok {
			err = ErrEquateDuplicate
			return
		}
		asm.Equate[words[1]] = words[2]
		words = words[:0]
		return
	}

	for n, word := range words {
		// Check for equate next
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
		}
	}

	for strings.HasSuffix(words[0], ":") {
		label := words[0][:len(words[0])-1]
		if !labelPattern.MatchString(label) {
			err = ErrLabelInvalid
			return
		}
		_, ok := asm.Label[label]
		if ok {
			err = ErrLabelDuplicate
			return
		}

		if asm.Label == nil {
			asm.Label = make(map[string]uint64, 16)
		}
		asm.Label[label] = asm.ip
		words = words[1:]
		if len(words) == 0 {
			return
		}
	}

	// .macro processing
	macro, ok := asm.Macro[words[0]]
	if ok {
		name := words[0]

		args := words[1:]
		if len(args) != len(macro.Args) {
			err = ErrMacroSyntax
			return
		}
		// Turn args into equs
		old_equate := maps.Clone(asm.Equate)
		for n, arg := range macro.Args {
			asm.Equate[arg] = words[1+n]
		}
		defer func() { asm.Equate = old_equate }()

		asm.expansions++
		local := fmt.Sprintf("%v_%v_", name, asm.expansions)

		for n, line := range macro.Lines {
			lineno := macro.LineNo + n

			line = strings.ReplaceAll(line, "@", local)
			words, err = asm.parseLine(line, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}

			err = asm.parseWords(words, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}
		}

		words = nil
		return
	}

	return
}

// Parse parses an input stream into a Program.
func (asm *Assembler) Parse(input io.Reader) (prog *Program, err error) {

	scanner := bufio.NewScanner(input)

	var line string
	var lineno int
	var macro *Macro

	defer func() {
		if err != nil {
			err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
		}
	}()

	clear(asm.Label)
	asm.Opcode = asm.Opcode[:0]
	asm.ip = 0
	asm.expansions = 0
	if asm.Macro == nil {
		asm.Macro = make(map[string](*Macro))
	}
	clear(asm.Macro)
	asm.Equate = maps.Clone(sysEquate)
	for attr, val := range asm.predefine {
		asm.Equate[attr] = val
	}

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if asm.Verbose {
			log.Printf("asm: %v: %v\n", lineno, text)
		}

		text_comment := strings.Split(text, ";")
		line = strings.TrimSpace(text_comment[0])
		words := strings.Fields(strings.ReplaceAll(line, ",", " "))

		// .macro NAME arg...
		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				err = ErrMacroNesting
				return
			}
			if len(words) < 2 {
				err = ErrMacroSyntax
				return
			}
			_, ok := asm.Macro[words[1]]
			if ok {
				err = ErrMacroDuplicate
				return
			}
			macro = &Macro{
				LineNo: lineno + 1,
			}
			if len(words) > 2 {
				macro.Args = words[2:]
			}
			asm.Macro[words[1]] = macro
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				err = ErrMacroLonelyEndm
				return
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = asm.parseLine(line, lineno)
		if err != nil {
			return
		}

		err = asm.parseWords(words, lineno)
		if err != nil {
			return
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		err = ErrMacroLonely
		return
	}

	// Final linking of labels.
	for n := range asm.Opcode {
		op := &asm.Opcode[n]

		if len(op.LinkLabel) == 0 {
			continue
		}
		lineno = op.LineNo
		line = strings.Join(op.Words, " ")

		label := op.LinkLabel
		addr, ok := asm.Label[label]
		if !ok {
			err = ErrLabelMissing(label)
			return
		}

		err = op.fixup(addr + op.addend)
		if err != nil {
			return
		}

		if asm.Verbose {
			log.Printf("asm: %v: %v = 0x%x", op.LineNo, label, addr)
		}
	}

	prog = &Program{
		Opcodes: slices.Clone(asm.Opcode),
	}

	return
}

// emit places an opcode at the current address.
func (asm *Assembler) emit(op Opcode) {
	op.Ip = asm.ip
	asm.ip += uint64(len(op.Data))
	asm.Opcode = append(asm.Opcode, op)
}

// operand parses a register, memory operand, immediate, or label reference.
// Label references are returned as a zero immediate.
func (asm *Assembler) operand(word string) (operand cpu.Operand, label string, err error) {
	reg, ok := registerMap[word]
	if ok {
		operand = cpu.Reg(reg)
		return
	}

	if strings.HasPrefix(word, "[") {
		if !strings.HasSuffix(word, "]") {
			err = ErrMemoryInvalid
			return
		}
		return asm.memory(word[1 : len(word)-1])
	}

	value, err := asm.valueOf(word)
	if err == nil {
		operand = cpu.Imm(value)
		return
	}

	if !labelPattern.MatchString(word) {
		err = ErrParseValue(word)
		return
	}

	err = nil
	operand = cpu.Imm(0)
	label = word
	return
}

// memory parses the inside of a memory operand: a sum of at most one base
// register, at most one scaled index register, numbers, and at most one
// label; or ip plus numbers and a label.
func (asm *Assembler) memory(text string) (operand cpu.Operand, label string, err error) {
	base, index, scale := cpu.NO_REGISTER, cpu.NO_REGISTER, uint8(1)
	relative := false
	var disp uint64

	lookup := func(word string) string {
		equate, ok := asm.Equate[word]
		if ok {
			return equate
		}
		return word
	}

	for len(text) > 0 {
		negative := false
		switch text[0] {
		case '-':
			negative = true
			text = text[1:]
		case '+':
			text = text[1:]
		}

		end := strings.IndexAny(text, "+-")
		if end < 0 {
			end = len(text)
		}
		term := lookup(text[:end])
		text = text[end:]

		if len(term) == 0 {
			err = ErrMemoryInvalid
			return
		}

		reg_word, factor, scaled := strings.Cut(term, "*")
		reg, is_reg := registerMap[lookup(reg_word)]

		switch {
		case term == "ip":
			if negative || relative || base != cpu.NO_REGISTER || index != cpu.NO_REGISTER {
				err = ErrMemoryInvalid
				return
			}
			relative = true
		case scaled:
			var value uint64
			value, err = asm.valueOf(lookup(factor))
			if err != nil {
				return
			}
			if !is_reg || negative || index != cpu.NO_REGISTER {
				err = ErrMemoryInvalid
				return
			}
			switch value {
			case 1, 2, 4, 8:
			default:
				err = ErrMemoryInvalid
				return
			}
			index, scale = reg, uint8(value)
		case is_reg:
			switch {
			case negative:
				err = ErrMemoryInvalid
				return
			case base == cpu.NO_REGISTER:
				base = reg
			case index == cpu.NO_REGISTER:
				index = reg
			default:
				err = ErrMemoryInvalid
				return
			}
		default:
			value, value_err := asm.valueOf(term)
			if value_err == nil {
				if negative {
					value = -value
				}
				disp += value
				continue
			}
			if !labelPattern.MatchString(term) {
				err = ErrParseValue(term)
				return
			}
			if negative || len(label) > 0 {
				err = ErrMemoryInvalid
				return
			}
			label = term
		}
	}

	if relative {
		if base != cpu.NO_REGISTER || index != cpu.NO_REGISTER {
			err = ErrMemoryInvalid
			return
		}
		operand = cpu.IpRel(int64(disp))
		return
	}

	if index == arch.REGISTER_SP {
		err = ErrMemoryInvalid
		return
	}

	operand = cpu.Mem(base, index, scale, int64(disp))
	return
}

// operandCount returns how many operands an operation takes.
func operandCount(kind cpu.OpKind) int {
	switch kind {
	case cpu.OP_NOP, cpu.OP_RET, cpu.OP_IRET, cpu.OP_HLT, cpu.OP_CLI, cpu.OP_STI:
		return 0
	case cpu.OP_INC, cpu.OP_POP, cpu.OP_PUSH, cpu.OP_JMP, cpu.OP_JZ, cpu.OP_JNZ,
		cpu.OP_CALL, cpu.OP_INT, cpu.OP_LOAD_ROOT, cpu.OP_INVALIDATE:
		return 1
	}
	return 2
}

// width returns the operand width selected by a mnemonic suffix.
func width(kind cpu.OpKind, suffix string) (width arch.Width, err error) {
	switch kind {
	case cpu.OP_MOV, cpu.OP_INC, cpu.OP_ADD, cpu.OP_SUB, cpu.OP_AND,
		cpu.OP_OR, cpu.OP_XOR, cpu.OP_CMP:
		width = arch.WIDTH_64
	case cpu.OP_IN, cpu.OP_OUT:
		width = arch.WIDTH_8
	default:
		if len(suffix) > 0 {
			err = ErrWidthInvalid
		}
		return
	}

	if len(suffix) > 0 {
		var ok bool
		width, ok = widthMap[suffix]
		if !ok {
			err = ErrWidthInvalid
		}
	}
	return
}

// parseWords evaluates the words in a line of assembly text.
func (asm *Assembler) parseWords(words []string, lineno int) (err error) {
	// no-op
	if len(words) == 0 {
		return
	}

	initial_words := words

	switch words[0] {
	case ".org":
		if len(words) < 2 {
			err = ErrOpcodeValueMissing
			return
		}
		if len(words) > 2 {
			err = ErrOpcodeExtraArgs
			return
		}
		asm.ip, err = asm.valueOf(words[1])
		return
	case ".align":
		if len(words) < 2 {
			err = ErrOpcodeValueMissing
			return
		}
		if len(words) > 2 {
			err = ErrOpcodeExtraArgs
			return
		}
		var align uint64
		align, err = asm.valueOf(words[1])
		if err != nil {
			return
		}
		if align == 0 || align&(align-1) != 0 {
			err = ErrAlign
			return
		}
		pad := (align - asm.ip%align) % align
		if pad > 0 {
			asm.emit(Opcode{LineNo: lineno, Words: initial_words, Data: make([]byte, pad)})
		}
		return
	case ".byte", ".word", ".dword", ".quad":
		width := dataMap[words[0]]
		if len(words) < 2 {
			err = ErrOpcodeValueMissing
			return
		}
		for _, word := range words[1:] {
			op := Opcode{LineNo: lineno, Words: initial_words, Data: make([]byte, width)}
			var value uint64
			value, err = asm.valueOf(word)
			if err != nil {
				if !labelPattern.MatchString(word) {
					return
				}
				err = nil
				op.LinkLabel = word
			}
			err = op.fixup(value)
			if err != nil {
				return
			}
			asm.emit(op)
		}
		return
	}

	mnemonic, suffix, _ := strings.Cut(words[0], ".")
	kind, ok := cpu.ParseOpKind(mnemonic)
	if !ok || kind == cpu.OP_COUNT {
		err = ErrInstructionInvalid
		return
	}

	op := &cpu.Operation{Kind: kind}
	op.Width, err = width(kind, suffix)
	if err != nil {
		return
	}

	args := words[1:]
	count := operandCount(kind)
	if len(args) < count {
		err = ErrOpcodeMissing
		return
	}
	if len(args) > count {
		err = ErrOpcodeExtraArgs
		return
	}

	var slots []*cpu.Operand
	switch {
	case count == 2:
		slots = []*cpu.Operand{&op.Dst, &op.Src}
	case count == 1 && (kind == cpu.OP_INC || kind == cpu.OP_POP):
		slots = []*cpu.Operand{&op.Dst}
	case count == 1:
		slots = []*cpu.Operand{&op.Src}
	}

	opcode := Opcode{LineNo: lineno, Words: initial_words, Op: op}

	for n, slot := range slots {
		var label string
		*slot, label, err = asm.operand(args[n])
		if err != nil {
			return
		}
		if len(label) == 0 {
			continue
		}
		if len(opcode.LinkLabel) > 0 {
			err = ErrLabelMultiple
			return
		}
		opcode.LinkLabel = label
		opcode.link = slot
		if slot.Kind == cpu.OPERAND_MEMORY {
			opcode.addend = uint64(slot.Disp)
		}
	}

	// Immediate branch targets are addresses.
	var target *uint64
	switch kind {
	case cpu.OP_JMP, cpu.OP_JZ, cpu.OP_JNZ, cpu.OP_CALL:
		if op.Src.Kind == cpu.OPERAND_IMMEDIATE {
			value := op.Src.Value
			op.Src = cpu.Rel(0)
			opcode.link = &op.Src
			if len(opcode.LinkLabel) == 0 {
				target = &value
			}
		}
	}

	opcode.Ip = asm.ip
	if opcode.link != nil {
		opcode.Data, err = linker.Encode(*op)
	} else {
		opcode.Data, err = isa.Encode(*op)
	}
	if err != nil {
		return
	}

	if target != nil {
		err = opcode.fixup(*target)
		if err != nil {
			return
		}
	}

	asm.emit(opcode)
	return
}
