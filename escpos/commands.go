package escpos

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/mattn/go-runewidth"
	xdraw "golang.org/x/image/draw"
)

// Control characters
const (
	ESC = 0x1B
	GS  = 0x1D
	DLE = 0x10
	EOT = 0x04
)

// Barcode symbologies accepted by Barcode
const (
	BarcodeUPCA = iota
	BarcodeUPCE
	BarcodeEAN13
	BarcodeEAN8
	BarcodeCODE39
	BarcodeITF
	BarcodeCODABAR
	BarcodeCODE93
	BarcodeCODE128
)

// Alignments accepted by Align and Columns
const (
	AlignLeft = iota
	AlignCenter
	AlignRight
)

// BaseFontSize is the font size in pixels printed at 1x magnification
const BaseFontSize = 24

var errInvalidArgument = errors.New("invalid argument")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidArgument, fmt.Sprintf(format, args...))
}

// Init returns ESC @
func Init() []byte {
	return []byte{ESC, '@'}
}

// LineFeed returns ESC d n
func LineFeed(lines int) ([]byte, error) {
	if lines < 0 || lines > 255 {
		return nil, invalid("line count %d out of range 0-255", lines)
	}
	return []byte{ESC, 'd', byte(lines)}, nil
}

// Align returns ESC a n
func Align(alignment int) ([]byte, error) {
	if alignment < AlignLeft || alignment > AlignRight {
		return nil, invalid("alignment %d out of range 0-2", alignment)
	}
	return []byte{ESC, 'a', byte(alignment)}, nil
}

// FontSize returns GS ! n, scaling both dimensions by size/BaseFontSize
func FontSize(size float64) ([]byte, error) {
	if size <= 0 {
		return nil, invalid("font size %v must be positive", size)
	}
	m := int(size/BaseFontSize + 0.5)
	if m < 1 {
		m = 1
	}
	if m > 8 {
		m = 8
	}
	n := byte((m-1)<<4 | (m - 1))
	return []byte{GS, '!', n}, nil
}

// StatusQuery returns DLE EOT n
func StatusQuery(n byte) []byte {
	return []byte{DLE, EOT, n}
}

// Barcode returns the HRI position, height, module width and GS k function B
// print commands for data
func Barcode(data string, symbology, height, width, textPosition int) ([]byte, error) {
	if symbology < BarcodeUPCA || symbology > BarcodeCODE128 {
		return nil, invalid("barcode symbology %d out of range 0-8", symbology)
	}
	if height < 1 || height > 255 {
		return nil, invalid("barcode height %d out of range 1-255", height)
	}
	if width < 2 || width > 6 {
		return nil, invalid("barcode width %d out of range 2-6", width)
	}
	if textPosition < 0 || textPosition > 3 {
		return nil, invalid("barcode text position %d out of range 0-3", textPosition)
	}
	for i := 0; i < len(data); i++ {
		if data[i] > 0x7F {
			return nil, invalid("barcode data must be ASCII")
		}
	}

	if symbology == BarcodeCODE128 && !strings.HasPrefix(data, "{") {
		data = "{B" + data
	}
	if len(data) == 0 || len(data) > 255 {
		return nil, invalid("barcode data length %d out of range 1-255", len(data))
	}

	cmd := []byte{
		GS, 'H', byte(textPosition),
		GS, 'h', byte(height),
		GS, 'w', byte(width),
		GS, 'k', byte(65 + symbology), byte(len(data)),
	}
	return append(cmd, data...), nil
}

// QRCode returns the GS ( k sequence selecting model 2, module size, error
// correction level, storing data and printing the symbol
func QRCode(data string, moduleSize, errorLevel int) ([]byte, error) {
	if moduleSize < 1 || moduleSize > 16 {
		return nil, invalid("QR module size %d out of range 1-16", moduleSize)
	}
	if errorLevel < 0 || errorLevel > 3 {
		return nil, invalid("QR error level %d out of range 0-3", errorLevel)
	}
	if len(data) == 0 || len(data) > 7089 {
		return nil, invalid("QR data length %d out of range 1-7089", len(data))
	}

	store := len(data) + 3
	cmd := []byte{
		GS, '(', 'k', 0x04, 0x00, 0x31, 0x41, 0x32, 0x00,
		GS, '(', 'k', 0x03, 0x00, 0x31, 0x43, byte(moduleSize),
		GS, '(', 'k', 0x03, 0x00, 0x31, 0x45, byte(0x30 + errorLevel),
		GS, '(', 'k', byte(store), byte(store >> 8), 0x31, 0x50, 0x30,
	}
	cmd = append(cmd, data...)
	return append(cmd, GS, '(', 'k', 0x03, 0x00, 0x31, 0x51, 0x30), nil
}

// Raster returns GS v 0 for img, scaled down to maxWidth dots when wider
func Raster(img image.Image, maxWidth int) ([]byte, error) {
	if img == nil {
		return nil, invalid("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, invalid("empty image")
	}

	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
		b = dst.Bounds()
	}

	w, h := b.Dx(), b.Dy()
	if h > 0xFFFF {
		return nil, invalid("image height %d too large", h)
	}
	rowBytes := (w + 7) / 8

	cmd := make([]byte, 0, 8+rowBytes*h)
	cmd = append(cmd, GS, 'v', '0', 0x00,
		byte(rowBytes), byte(rowBytes>>8),
		byte(h), byte(h>>8))

	row := make([]byte, rowBytes)
	for y := 0; y < h; y++ {
		clear(row)
		for x := 0; x < w; x++ {
			if isDark(img.At(b.Min.X+x, b.Min.Y+y)) {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
		cmd = append(cmd, row...)
	}
	return cmd, nil
}

// isDark treats transparent pixels as paper
func isDark(c color.Color) bool {
	r, g, b, a := c.RGBA()
	if a < 0x8000 {
		return false
	}
	lum := (299*r + 587*g + 114*b) / 1000
	return lum < 0x8000
}

// Columns lays out one table row in a line of lineWidth cells. widths are
// relative weights; text longer than its column wraps onto further lines.
func Columns(texts []string, widths, aligns []int, lineWidth int) (string, error) {
	if len(texts) == 0 || len(texts) != len(widths) || len(texts) != len(aligns) {
		return "", invalid("column arrays differ in length")
	}
	if lineWidth < len(texts) {
		return "", invalid("line width %d too small for %d columns", lineWidth, len(texts))
	}

	total := 0
	for _, w := range widths {
		if w <= 0 {
			return "", invalid("column width %d must be positive", w)
		}
		total += w
	}

	cells := make([]int, len(widths))
	used := 0
	for i, w := range widths {
		cells[i] = lineWidth * w / total
		if cells[i] < 1 {
			cells[i] = 1
		}
		used += cells[i]
	}
	// Rounding leftovers go to the last column
	cells[len(cells)-1] += lineWidth - used
	if cells[len(cells)-1] < 1 {
		return "", invalid("line width %d too small for column weights", lineWidth)
	}

	wrapped := make([][]string, len(texts))
	rows := 0
	for i, text := range texts {
		wrapped[i] = wrapCell(text, cells[i])
		rows = max(rows, len(wrapped[i]))
	}

	var sb strings.Builder
	for r := 0; r < rows; r++ {
		for i := range texts {
			cell := ""
			if r < len(wrapped[i]) {
				cell = wrapped[i][r]
			}
			sb.WriteString(pad(cell, cells[i], aligns[i]))
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func wrapCell(text string, width int) []string {
	text = strings.ReplaceAll(text, "\n", " ")
	if text == "" {
		return []string{""}
	}

	var lines []string
	var cur strings.Builder
	curWidth := 0
	for _, r := range text {
		rw := runewidth.RuneWidth(r)
		if curWidth+rw > width && curWidth > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curWidth = 0
		}
		cur.WriteRune(r)
		curWidth += rw
	}
	return append(lines, cur.String())
}

func pad(s string, width, alignment int) string {
	gap := width - runewidth.StringWidth(s)
	if gap <= 0 {
		return s
	}
	switch alignment {
	case AlignRight:
		return strings.Repeat(" ", gap) + s
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	default:
		return s + strings.Repeat(" ", gap)
	}
}
