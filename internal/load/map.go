package load

import (
	"fmt"
	"io"
	"math/bits"
	"sort"

	"github.com/fatih/color"

	"github.com/conn-castle/modutils/internal/elfobj"
	"github.com/conn-castle/modutils/internal/messages"
)

// printLoadMap renders the section layout and the final symbol values,
// so an oops in the freshly loaded module can be traced by hand.
func printLoadMap(w io.Writer, f *elfobj.File, colorize bool) {
	header := color.New(color.FgCyan, color.Bold)
	if !colorize {
		header.DisableColor()
	}
	addrWidth := f.WordSize * 2

	header.Fprintf(w, messages.LoadMapSectionHeaderFmt+"\n", addrWidth, "Address")
	for _, sec := range f.LoadOrder() {
		align := sec.Align
		if align == 0 {
			align = 1
		}
		fmt.Fprintf(w, messages.LoadMapSectionRowFmt+"\n",
			sec.Name, sec.Size, addrWidth, sec.Addr, bits.Len64(align)-1)
	}

	var syms []*elfobj.Symbol
	f.Symbols(func(s *elfobj.Symbol) {
		if s.Defined() && !s.Imported() {
			syms = append(syms, s)
		}
	})
	sort.Slice(syms, func(i, j int) bool {
		return f.SymbolValue(syms[i]) < f.SymbolValue(syms[j])
	})

	header.Fprintf(w, messages.LoadMapSymbolHeader+"\n")
	for _, s := range syms {
		fmt.Fprintf(w, messages.LoadMapSymbolRowFmt+"\n",
			addrWidth, f.SymbolValue(s), symbolLetter(f, s), s.Name)
	}
}

// symbolLetter assigns the nm-style section letter, uppercased for
// non-local symbols.
func symbolLetter(f *elfobj.File, s *elfobj.Symbol) byte {
	var letter byte
	switch {
	case s.Section == elfobj.SecAbs:
		letter = 'a'
	case s.Section <= 0 || s.Section >= len(f.Sections):
		letter = '?'
	default:
		sec := f.Sections[s.Section]
		switch {
		case sec.Flags&elfobj.FlagExecinstr != 0:
			letter = 't'
		case sec.Flags&elfobj.FlagNobits != 0:
			letter = 'b'
		case sec.Flags&elfobj.FlagWrite != 0:
			letter = 'd'
		default:
			letter = 'r'
		}
	}
	if s.Binding != elfobj.BindLocal && letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	return letter
}
