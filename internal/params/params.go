// Package params patches key=value command-line arguments into a
// module's parameter storage before the image is built.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/messages"
	"github.com/conn-castle/modutils/internal/modversion"
)

// modinfoPrefix introduces a parameter description record.
const modinfoPrefix = "parm_"

// spec is one parameter's declared shape: how many values it accepts
// and how each is encoded. A min or max of zero disables that bound.
type spec struct {
	min, max int
	kind     byte
	charLen  int // payload size per value, kind 'c' only
}

// elemSize returns how many bytes one value occupies in the parameter
// array.
func (sp spec) elemSize(wordSize int) uint64 {
	switch sp.kind {
	case 'b':
		return 1
	case 'h':
		return 2
	case 'i':
		return 4
	case 'c':
		return uint64(sp.charLen)
	default: // 'l' and 's' are word sized
		return uint64(wordSize)
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// readInt consumes a run of decimal digits starting at i.
func readInt(s string, i int) (int, int) {
	v := 0
	for i < len(s) && isDigit(s[i]) {
		v = v*10 + int(s[i]-'0')
		i++
	}
	return v, i
}

// parseSpec decodes a parm_<key> description: an optional count or
// count range, then a single type letter, with 'c' carrying the slot
// size in bytes.
func parseSpec(key, desc string) (spec, error) {
	sp := spec{min: 1, max: 1}
	i := 0
	if i < len(desc) && isDigit(desc[i]) {
		sp.min, i = readInt(desc, i)
		if i < len(desc) && desc[i] == '-' {
			sp.max, i = readInt(desc, i+1)
		} else {
			sp.max = sp.min
		}
	}
	if i >= len(desc) {
		return sp, fmt.Errorf(messages.ParamInvalidFmt, key)
	}
	sp.kind = desc[i]
	i++
	switch sp.kind {
	case 'b', 'h', 'i', 'l', 's':
	case 'c':
		if i >= len(desc) || !isDigit(desc[i]) {
			return sp, fmt.Errorf(messages.ParamCharSizeMissingFmt, key)
		}
		sp.charLen, _ = readInt(desc, i)
	default:
		return sp, fmt.Errorf(messages.ParamUnknownTypeFmt, sp.kind, key)
	}
	return sp, nil
}

// inferSpec guesses the shape of an undescribed parameter from its
// value, without count bounds.
func inferSpec(value string) spec {
	if value != "" && isDigit(value[0]) {
		return spec{kind: 'i'}
	}
	return spec{kind: 's'}
}

// parseString consumes one string value: a double-quoted literal with C
// escape processing, or a bare run up to the next comma. The returned
// rest starts at the separator.
func parseString(key, q string) (string, string, error) {
	if !strings.HasPrefix(q, `"`) {
		if i := strings.IndexByte(q, ','); i >= 0 {
			return q[:i], q[i:], nil
		}
		return q, "", nil
	}

	var b strings.Builder
	i := 1
	for {
		if i >= len(q) {
			return "", "", fmt.Errorf(messages.ParamUnterminatedStringFmt, key)
		}
		c := q[i]
		i++
		if c == '"' {
			return b.String(), q[i:], nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i >= len(q) {
			return "", "", fmt.Errorf(messages.ParamUnterminatedStringFmt, key)
		}
		e := q[i]
		i++
		switch e {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'e':
			b.WriteByte(0x1b)
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(e - '0')
			for d := 0; d < 2 && i < len(q) && q[i] >= '0' && q[i] <= '7'; d++ {
				v = v*8 + int(q[i]-'0')
				i++
			}
			b.WriteByte(byte(v))
		default:
			b.WriteByte(e)
		}
	}
}

// Apply patches each key=value argument into the module's parameter
// storage. Values land in the symbol's own storage; string pointers are
// deferred as string patches so they pick up final addresses.
func Apply(f *elfobj.File, args []string) error {
	for _, arg := range args {
		if err := applyOne(f, arg); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(f *elfobj.File, arg string) error {
	eq := strings.IndexByte(arg, '=')
	if eq < 0 {
		// Not a key=value token; leave it alone.
		return nil
	}
	if eq == 0 {
		return fmt.Errorf(messages.ParamInvalidFmt, arg)
	}
	key, value := arg[:eq], arg[eq+1:]

	var sp spec
	if desc, ok := modversion.ModinfoValue(f, modinfoPrefix+key); ok {
		var err error
		if sp, err = parseSpec(key, desc); err != nil {
			return err
		}
	} else if modversion.HasModinfo(f) {
		// A module with parameter metadata declares every parameter it
		// accepts; patching an undeclared symbol would corrupt its data.
		return fmt.Errorf(messages.ParamInvalidFmt, key)
	} else {
		sp = inferSpec(value)
	}

	sym := f.FindSymbol(key)
	if sym == nil || !sym.Defined() || sym.Imported() ||
		sym.Section <= 0 || sym.Section >= len(f.Sections) {
		return fmt.Errorf(messages.ParamSymbolNotFoundFmt, key)
	}
	sec := f.Sections[sym.Section]

	n := 0
	ofs := sym.Value
	q := value
	for len(q) > 0 {
		n++
		if sp.max > 0 && n > sp.max {
			return fmt.Errorf(messages.ParamTooManyValuesFmt, key, sp.max)
		}
		if ofs+sp.elemSize(f.WordSize) > uint64(len(sec.Data)) {
			return fmt.Errorf(messages.ParamStorageOverrunFmt, key)
		}

		switch sp.kind {
		case 's', 'c':
			str, rest, err := parseString(key, q)
			if err != nil {
				return err
			}
			q = rest
			if sp.kind == 'c' {
				if len(str)+1 > sp.charLen {
					return fmt.Errorf(messages.ParamStringTooLongFmt, key, sp.charLen-1)
				}
				copy(sec.Data[ofs:], str)
				sec.Data[ofs+uint64(len(str))] = 0
			} else {
				f.StringPatch(sym.Section, ofs, str)
			}
		default:
			tok := q
			if i := strings.IndexByte(q, ','); i >= 0 {
				tok, q = q[:i], q[i:]
			} else {
				q = ""
			}
			v, err := strconv.ParseInt(strings.TrimSpace(tok), 0, 64)
			if err != nil {
				return fmt.Errorf(messages.ParamBadValueFmt, tok, key, err)
			}
			switch sp.kind {
			case 'b':
				sec.Data[ofs] = byte(v)
			case 'h':
				f.ByteOrder.PutUint16(sec.Data[ofs:], uint16(v))
			case 'i':
				f.ByteOrder.PutUint32(sec.Data[ofs:], uint32(v))
			case 'l':
				f.PutWord(sec, ofs, uint64(v))
			}
		}
		ofs += sp.elemSize(f.WordSize)

		q = strings.TrimLeft(q, " \t")
		if len(q) > 0 {
			if q[0] != ',' {
				return fmt.Errorf(messages.ParamBadSyntaxFmt, key, q[0])
			}
			q = strings.TrimLeft(q[1:], " \t")
		}
	}

	if sp.min > 0 && n < sp.min {
		return fmt.Errorf(messages.ParamTooFewValuesFmt, key, sp.min)
	}
	return nil
}
