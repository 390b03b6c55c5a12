// Package placeholder renders the stand-in training example images shown
// next to predictions.
package placeholder

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// DefaultColor is used for classes without an assigned colour.
const DefaultColor = "#E0E0E0"

var pastelColors = map[string]string{
	"cat":      "#FFD6E0",
	"dog":      "#C9E4DE",
	"bird":     "#C6DEF1",
	"fish":     "#DBCDF0",
	"tree":     "#C9E4DE",
	"flower":   "#FFD6E0",
	"house":    "#F7D9C4",
	"car":      "#C6DEF1",
	"bicycle":  "#DBCDF0",
	"airplane": "#C6DEF1",
	"boat":     "#C9E4DE",
	"umbrella": "#FFD6E0",
	"cup":      "#F7D9C4",
	"chair":    "#F2E5D9",
	"table":    "#F2E5D9",
	"book":     "#DBCDF0",
	"clock":    "#C6DEF1",
	"computer": "#C9E4DE",
	"phone":    "#C6DEF1",
	"apple":    "#FFD6E0",
	"banana":   "#FAEDCB",
	"sun":      "#FAEDCB",
	"moon":     "#C6DEF1",
	"star":     "#FAEDCB",
	"cloud":    "#C6DEF1",
	"mountain": "#C9E4DE",
	"face":     "#FFD6E0",
	"eye":      "#C6DEF1",
	"hand":     "#F7D9C4",
	"heart":    "#FFD6E0",
}

// Color returns the background colour for a class.
func Color(class string) string {
	if c, ok := pastelColors[class]; ok {
		return c
	}
	return DefaultColor
}

// ParseVariant reads the variant path segment. Leading whitespace and
// trailing garbage are ignored, so "3px" is 3; anything without a leading
// non-zero integer becomes 1.
func ParseVariant(s string) int {
	s = strings.TrimLeft(s, " \t\n\r")

	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	v, err := strconv.Atoi(s[:end])
	if err != nil || v == 0 {
		return 1
	}
	return v
}

// Render returns the SVG for a class and variant. The output depends only on
// its arguments.
func Render(class string, variant int) []byte {
	offset := variant * 20
	name := html.EscapeString(class)

	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="280" height="280" viewBox="0 0 280 280">
  <rect width="280" height="280" fill="%s"/>
  <rect x="%d" y="%d" width="%d" height="%d" fill="white" opacity="0.3" rx="20"/>
  <text x="140" y="140" font-family="Inter, sans-serif" font-size="28" font-weight="600" fill="#333" text-anchor="middle" dominant-baseline="middle" text-transform="capitalize">%s</text>
  <text x="140" y="175" font-family="Inter, sans-serif" font-size="14" fill="#666" text-anchor="middle" dominant-baseline="middle">Training Example %d</text>
</svg>`, Color(class), 10+offset, 10+offset, 260-2*offset, 260-2*offset, name, variant))
}
