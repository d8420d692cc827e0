package classify

import "strings"

// Category is a structural product category.
type Category string

const (
	IEM        Category = "iem"
	Headphones Category = "headphones"
	Cable      Category = "cable"
	DAC        Category = "dac"
	Amp        Category = "amp"
	DAP        Category = "dap"
	Speaker    Category = "speaker"
	Microphone Category = "microphone"
	Accessory  Category = "accessory"
	Excluded   Category = "excluded"
)

// Categories lists every category in declaration order.
var Categories = []Category{IEM, Headphones, Cable, DAC, Amp, DAP, Speaker, Microphone, Accessory, Excluded}

// ParseCategory folds s and reports whether it names a category. The empty
// string is valid and means "unknown".
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return "", true
	}
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// Subcategory refines the cable category.
type Subcategory string

const (
	IEMCable       Subcategory = "iem_cable"
	HeadphoneCable Subcategory = "headphone_cable"
	GenericCable   Subcategory = "generic_cable"
)
