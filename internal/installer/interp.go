package installer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/cexe"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/output"
)

// DefaultVariables are the path variables every script starts with. Values
// are relative to the output root.
var DefaultVariables = map[string]string{
	"MAINDIR": "",
	"WIN":     "WINDOWS",
	"SYS":     "WINDOWS/SYSTEM",
	"TEMP":    "TEMP",
}

type state int

const (
	stateInitial state = iota
	stateRunning
	stateDone
)

// Interpreter runs a parsed script against files previously extracted
// under a writer's root.
type Interpreter struct {
	w     *output.Writer
	vars  map[string]string
	state state
	files []string
	moved []string
}

var ErrMissingSource = errors.New("script source file not extracted")

func NewInterpreter(w *output.Writer) *Interpreter {
	vars := make(map[string]string, len(DefaultVariables))
	for k, v := range DefaultVariables {
		vars[k] = v
	}
	return &Interpreter{w: w, vars: vars}
}

// Resolve substitutes %NAME% variables in p. Unknown variables resolve to
// their bare name; a lone '%' is kept.
func (in *Interpreter) Resolve(p string) string {
	var sb strings.Builder
	for {
		i := strings.IndexByte(p, '%')
		if i < 0 {
			sb.WriteString(p)
			break
		}
		j := strings.IndexByte(p[i+1:], '%')
		if j < 0 {
			sb.WriteString(p)
			break
		}
		sb.WriteString(p[:i])
		name := p[i+1 : i+1+j]
		if v, ok := in.vars[strings.ToUpper(name)]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(name)
		}
		p = p[i+j+2:]
	}
	return strings.TrimLeft(sb.String(), `/\`)
}

// Moved returns the paths that Rename instructions moved away.
func (in *Interpreter) Moved() []string {
	return in.moved
}

// Run executes instructions in order until End or the end of the list. A
// failing instruction is logged and skipped. It returns the paths written.
func (in *Interpreter) Run(s *Script) ([]string, error) {
	var errs []error
	for pc := 0; pc < len(s.Instructions) && in.state != stateDone; pc++ {
		ins := s.Instructions[pc]
		if err := in.step(ins); err != nil {
			logger.Debug("Script instruction failed", "index", pc, "op", ins.Op.String(), "error", err)
			errs = append(errs, fmt.Errorf("instruction %d (%s): %w", pc, ins.Op, err))
		}
	}
	return in.files, errors.Join(errs...)
}

func (in *Interpreter) step(ins Instruction) error {
	if in.state == stateInitial {
		in.state = stateRunning
		if ins.Op == OpBegin {
			return nil
		}
		logger.Debug("Script does not start with Begin", "op", ins.Op.String())
	}

	switch ins.Op {
	case OpBegin:
		return nil
	case OpEnd:
		in.state = stateDone
		return nil
	case OpCopyFile, OpInflate, OpRename:
		if len(ins.Args) < 2 {
			return fmt.Errorf("needs source and destination, got %d operands", len(ins.Args))
		}
		return in.transfer(ins.Op, in.Resolve(ins.Args[0]), in.Resolve(ins.Args[1]))
	case OpSetVar:
		if len(ins.Args) < 2 {
			return fmt.Errorf("needs name and value, got %d operands", len(ins.Args))
		}
		name := strings.ToUpper(strings.Trim(ins.Args[0], "%"))
		in.vars[name] = in.Resolve(ins.Args[1])
		return nil
	case OpMkDir:
		if len(ins.Args) < 1 {
			return errors.New("needs a path")
		}
		dir := in.Resolve(ins.Args[0])
		if dir == "" {
			return nil
		}
		_, err := in.w.MkdirAll(dir)
		return err
	case OpMessage:
		logger.Debug("Script message", "text", strings.Join(ins.Args, " "))
		return nil
	case OpDelete:
		logger.Debug("Ignoring script delete", "args", ins.Args)
		return nil
	default:
		logger.Debug("Skipping unknown script opcode", "op", ins.Op.String())
		return nil
	}
}

func (in *Interpreter) transfer(op Opcode, src, dst string) error {
	if !in.w.Exists(src) {
		return fmt.Errorf("%w: %s", ErrMissingSource, src)
	}
	from, _ := in.w.Path(src)
	var (
		path string
		err  error
	)
	switch op {
	case OpCopyFile:
		path, err = in.w.Copy(src, dst)
	case OpRename:
		if path, err = in.w.Rename(src, dst); err == nil && path != from {
			in.moved = append(without(in.moved, from), from)
		}
	case OpInflate:
		var packed, plain []byte
		if packed, err = in.w.ReadFile(src); err != nil {
			return fmt.Errorf("unable to read %s. %w", src, err)
		}
		if plain, err = cexe.Inflate(packed); err != nil {
			return fmt.Errorf("unable to inflate %s. %w", src, err)
		}
		path, err = in.w.Write(dst, plain)
	}
	if err != nil {
		return err
	}
	logger.Debug("Script produced file", "op", op.String(), "source", src, "output", path)
	in.files = append(without(in.files, path), path)
	in.moved = without(in.moved, path)
	if op == OpRename && path != from {
		in.files = without(in.files, from)
	}
	return nil
}

func without(paths []string, p string) []string {
	out := paths[:0]
	for _, q := range paths {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}
