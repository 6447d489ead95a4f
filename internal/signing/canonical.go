package signing

import (
	"regexp"
	"strings"
)

// The canonical form is what gets hashed and signed: the document minus
// its XML declaration, comments and extension blocks, with whitespace
// between tags collapsed. Signer and verifier must produce identical
// canonical bytes for the same document or nothing lines up.

var (
	xmlDeclRe    = regexp.MustCompile(`<\?xml[^?]*\?>`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	extensionRe  = regexp.MustCompile(`(?s)<ext:UBLExtension>.*?</ext:UBLExtension>`)
	interTagRe   = regexp.MustCompile(`>\s+<`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Canonicalize reduces a UBL document to its canonical form. Extension
// blocks are stripped wholesale, so the signature living inside one never
// signs itself.
func Canonicalize(xml string) string {
	s := xmlDeclRe.ReplaceAllString(xml, "")
	s = commentRe.ReplaceAllString(s, "")
	s = extensionRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = interTagRe.ReplaceAllString(s, "><")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
