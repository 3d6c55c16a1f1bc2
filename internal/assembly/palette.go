package assembly

import "strings"

// Named style tokens shared by every slide manifest. Manifests may also
// carry raw hex values; those pass through unchanged.
var palette = map[string]string{
	"BRANDNAVY": "1B2A4A",
	"BRANDBLUE": "4A90D9",
	"BRANDRED":  "E8604C",
	"HIGHLIGHT": "F5A623",
	"CARDGREY":  "F4F6F8",
	"TEXTGREY":  "8C9BAB",
	"TABLELINE": "D5DCE4",
	"WHITE":     "FFFFFF",
	"BLACK":     "000000",
}

var alignments = map[string]string{
	"LEFT":   "left",
	"CENTER": "center",
	"RIGHT":  "right",
}

// resolveColor maps a palette token to its hex value. Raw hex (with or
// without a leading '#') is normalized to bare hex; unknown tokens pass
// through so the renderer can complain about them.
func resolveColor(token string) string {
	if token == "" {
		return ""
	}
	if hex, ok := palette[strings.ToUpper(token)]; ok {
		return hex
	}
	return strings.TrimPrefix(token, "#")
}

// resolveAlign maps an alignment token to its renderer value, defaulting
// to left.
func resolveAlign(token string) string {
	if a, ok := alignments[strings.ToUpper(token)]; ok {
		return a
	}
	return "left"
}
