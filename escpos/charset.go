package escpos

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Supported text charsets
const (
	CharsetGB18030 = "gb18030"
	CharsetGBK     = "gbk"
	CharsetCP437   = "cp437"
	CharsetUTF8    = "utf-8"
)

// newEncoder returns the encoder for charset. Characters the charset lacks
// are replaced rather than failing the whole text.
func newEncoder(charset string) (*encoding.Encoder, error) {
	var enc encoding.Encoding
	switch strings.ToLower(charset) {
	case "", CharsetGB18030:
		enc = simplifiedchinese.GB18030
	case CharsetGBK:
		enc = simplifiedchinese.GBK
	case CharsetCP437, "ibm437":
		enc = charmap.CodePage437
	case CharsetUTF8, "utf8":
		enc = encoding.Nop
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()), nil
}

// SupportedCharset reports whether charset can be used in Options
func SupportedCharset(charset string) bool {
	_, err := newEncoder(charset)
	return err == nil
}
