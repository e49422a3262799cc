package installer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"
)

// ScriptName is the fixed name of the script stream inside a package.
const ScriptName = "setup.script"

var scriptMagic = [4]byte{'I', 'S', 'C', 'R'}

const (
	scriptHeaderSize = 8
	opHeaderSize     = 3
)

var (
	ErrNoScript        = errors.New("not an installer script")
	ErrTruncatedScript = errors.New("installer script truncated")
)

type Opcode uint8

const (
	OpBegin    Opcode = 0x00
	OpCopyFile Opcode = 0x01
	OpInflate  Opcode = 0x02
	OpRename   Opcode = 0x03
	OpSetVar   Opcode = 0x04
	OpMkDir    Opcode = 0x05
	OpMessage  Opcode = 0x06
	OpDelete   Opcode = 0x07
	OpEnd      Opcode = 0xFF
)

var opcodeNames = map[Opcode]string{
	OpBegin:    "Begin",
	OpCopyFile: "CopyFile",
	OpInflate:  "Inflate",
	OpRename:   "Rename",
	OpSetVar:   "SetVar",
	OpMkDir:    "MkDir",
	OpMessage:  "Message",
	OpDelete:   "Delete",
	OpEnd:      "End",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(o))
}

// Known reports whether the interpreter understands o.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// Instruction is one decoded script step. Args holds the NUL-terminated
// string operands in order.
type Instruction struct {
	Op   Opcode
	Args []string
}

type scriptHeader struct {
	Magic   [4]byte
	Version uint16
	Count   uint16
}

type Script struct {
	Version uint16
	// Count is the instruction count declared by the header.
	Count        uint16
	Instructions []Instruction
}

// ParseScript decodes a script stream up to and including its End
// instruction. On truncation the instructions decoded so far are returned
// together with ErrTruncatedScript.
func ParseScript(data []byte) (*Script, error) {
	if len(data) < scriptHeaderSize || !bytes.Equal(data[:4], scriptMagic[:]) {
		return nil, ErrNoScript
	}
	var hdr scriptHeader
	if err := restruct.Unpack(data[:scriptHeaderSize], binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoScript, err)
	}

	s := &Script{Version: hdr.Version, Count: hdr.Count}
	off := scriptHeaderSize
	for off < len(data) {
		if len(data)-off < opHeaderSize {
			return s, fmt.Errorf("%w: instruction header at %d", ErrTruncatedScript, off)
		}
		op := Opcode(data[off])
		n := int(binary.LittleEndian.Uint16(data[off+1 : off+3]))
		off += opHeaderSize
		if len(data)-off < n {
			return s, fmt.Errorf("%w: %s operand needs %d bytes at %d", ErrTruncatedScript, op, n, off)
		}
		s.Instructions = append(s.Instructions, Instruction{Op: op, Args: splitOperands(data[off : off+n])})
		off += n
		if op == OpEnd {
			break
		}
	}
	return s, nil
}

func splitOperands(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	fields := strings.Split(string(b), "\x00")
	if fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}

// EncodeScript serializes instructions in the script layout.
func EncodeScript(version uint16, instrs []Instruction) ([]byte, error) {
	hdr, err := restruct.Pack(binary.LittleEndian, &scriptHeader{
		Magic:   scriptMagic,
		Version: version,
		Count:   uint16(len(instrs)),
	})
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(hdr)
	for _, ins := range instrs {
		var operand []byte
		for _, a := range ins.Args {
			operand = append(operand, a...)
			operand = append(operand, 0)
		}
		if len(operand) > 0xFFFF {
			return nil, fmt.Errorf("%s operand too long", ins.Op)
		}
		buf.WriteByte(byte(ins.Op))
		binary.Write(buf, binary.LittleEndian, uint16(len(operand)))
		buf.Write(operand)
	}
	return buf.Bytes(), nil
}
