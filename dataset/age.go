package dataset

var ageCategories = [...]string{
	"18-24", "25-29", "30-34", "35-39", "40-44", "45-49", "50-54",
	"55-59", "60-64", "65-69", "70-74", "75-79", "80 or older",
}

// AgeCategory maps the BRFSS _AGEG5YR code (1..13) to its label, or
// "unknown" for any other code.
func AgeCategory(code int) string {
	if code < 1 || code > len(ageCategories) {
		return "unknown"
	}
	return ageCategories[code-1]
}
