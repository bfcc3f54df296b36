package models

// Styles accepted by the generator. The zero value is not a style.
const (
	StyleOutline   = "outline"
	StyleFilled    = "filled"
	StyleDuotone   = "duotone"
	StyleFlat      = "flat"
	StyleIsometric = "isometric"
	StyleHandDrawn = "hand-drawn"
)

// Models accepted by the generator.
const (
	ModelFlash = "gemini-2.5-flash"
	ModelPro   = "gemini-2.5-pro"
)

var Styles = []string{StyleOutline, StyleFilled, StyleDuotone, StyleFlat, StyleIsometric, StyleHandDrawn}

var Models = []string{ModelFlash, ModelPro}

func ValidStyle(s string) bool { return contains(Styles, s) }

func ValidModel(m string) bool { return contains(Models, m) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
