package sanitize

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// allowedProperties lists the CSS properties kept in style attributes.
var allowedProperties = map[string]bool{
	"align":            true,
	"background-color": true,
	"border":           true,
	"border-bottom":    true,
	"border-collapse":  true,
	"border-left":      true,
	"border-radius":    true,
	"border-right":     true,
	"border-spacing":   true,
	"border-top":       true,
	"box-sizing":       true,
	"clear":            true,
	"color":            true,
	"direction":        true,
	"display":          true,
	"float":            true,
	"font":             true,
	"font-family":      true,
	"font-size":        true,
	"font-style":       true,
	"font-weight":      true,
	"height":           true,
	"letter-spacing":   true,
	"line-height":      true,
	"list-style-type":  true,
	"margin":           true,
	"margin-bottom":    true,
	"margin-left":      true,
	"margin-right":     true,
	"margin-top":       true,
	"max-height":       true,
	"max-width":        true,
	"min-width":        true,
	"overflow":         true,
	"padding":          true,
	"padding-bottom":   true,
	"padding-left":     true,
	"padding-right":    true,
	"padding-top":      true,
	"table-layout":     true,
	"text-align":       true,
	"text-decoration":  true,
	"text-indent":      true,
	"text-shadow":      true,
	"text-transform":   true,
	"vertical-align":   true,
	"white-space":      true,
	"width":            true,
	"word-break":       true,
	"word-wrap":        true,
}

// cssState consumes one token and returns the state for the next one, or nil to reject the whole
// declaration block.
type cssState func(b *strings.Builder, t *scanner.Token) cssState

// sanitizeStyle drops declarations for properties not in allowedProperties, along with anything
// the scanner cannot tokenize.
func sanitizeStyle(input string) string {
	b := &strings.Builder{}
	scan := scanner.New(input)
	state := expectProperty
	for {
		t := scan.Next()
		switch t.Type {
		case scanner.TokenEOF:
			return b.String()
		case scanner.TokenError:
			return ""
		}
		if state = state(b, t); state == nil {
			return ""
		}
	}
}

func expectProperty(b *strings.Builder, t *scanner.Token) cssState {
	switch t.Type {
	case scanner.TokenS:
		return expectProperty
	case scanner.TokenIdent:
		if !allowedProperties[strings.ToLower(t.Value)] {
			return skipDeclaration
		}
		b.WriteString(t.Value)
		return copyDeclaration
	}
	// Leave a marker for the unexpected token; the declaration itself is skipped.
	b.WriteString("/*" + t.Type.String() + "*/")
	return skipDeclaration
}

func skipDeclaration(_ *strings.Builder, t *scanner.Token) cssState {
	if isSemicolon(t) {
		return expectProperty
	}
	return skipDeclaration
}

func copyDeclaration(b *strings.Builder, t *scanner.Token) cssState {
	if t.Type == scanner.TokenURI {
		// No url() values, they would load remote content.
		return nil
	}
	b.WriteString(t.Value)
	if isSemicolon(t) {
		return expectProperty
	}
	return copyDeclaration
}

func isSemicolon(t *scanner.Token) bool {
	return t.Type == scanner.TokenChar && t.Value == ";"
}
