// Package translate formats user visible messages through the host locale.
package translate

import (
	"log"

	"github.com/jeandeaual/go-locale"

	"golang.org/x/text/message"
)

var printer *message.Printer

func init() {
	locales, err := locale.GetLocales()
	if err != nil {
		log.Printf("x86rs: locale: %v", err)
	}

	if len(locales) == 0 {
		locales = []string{"en-US"}
	}

	printer = message.NewPrinter(message.MatchLanguage(locales...))
}

// From an en-US Sprintf() format, translate to string.
func From(key message.Reference, args ...any) string {
	return printer.Sprintf(key, args...)
}

// Hex formats a 64-bit address as 0000_0000_0000_0000, the form used in
// register dumps and fault messages.
func Hex(value uint64) string {
	return printer.Sprintf("%04x_%04x_%04x_%04x",
		(value>>48)&0xffff, (value>>32)&0xffff, (value>>16)&0xffff, value&0xffff)
}
