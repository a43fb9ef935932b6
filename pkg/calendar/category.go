package calendar

import (
	"strings"
	"unicode"
)

// categorySynonyms maps lower-cased category names and keywords to the
// canonical categories.
var categorySynonyms = map[string]Category{
	"appointment":  CategoryAppointment,
	"doctor":       CategoryAppointment,
	"dr":           CategoryAppointment,
	"medical":      CategoryAppointment,
	"healthcare":   CategoryAppointment,
	"dentist":      CategoryAppointment,
	"orthodontist": CategoryAppointment,
	"pediatrician": CategoryAppointment,
	"therapy":      CategoryAppointment,
	"checkup":      CategoryAppointment,
	"check-up":     CategoryAppointment,
	"physical":     CategoryAppointment,

	"activity": CategoryActivity,
	"sport":    CategoryActivity,
	"sports":   CategoryActivity,
	"class":    CategoryActivity,
	"practice": CategoryActivity,
	"game":     CategoryActivity,
	"lesson":   CategoryActivity,
	"recital":  CategoryActivity,
	"camp":     CategoryActivity,

	"birthday":    CategoryBirthday,
	"bday":        CategoryBirthday,
	"celebration": CategoryBirthday,
	"party":       CategoryBirthday,

	"meeting":        CategoryMeeting,
	"family meeting": CategoryMeeting,
	"conference":     CategoryMeeting,

	"date":         CategoryDateNight,
	"date night":   CategoryDateNight,
	"date-night":   CategoryDateNight,
	"datenight":    CategoryDateNight,
	"relationship": CategoryDateNight,

	"task":       CategoryTask,
	"chore":      CategoryTask,
	"homework":   CategoryTask,
	"assignment": CategoryTask,
	"errand":     CategoryTask,

	"general": CategoryGeneral,
}

// notInferredFromTitle lists synonyms too ambiguous to classify a title on
// their own ("due date", "game plan").
var notInferredFromTitle = map[string]bool{
	"date":    true,
	"game":    true,
	"general": true,
}

// ResolveCategory maps an explicit category through the synonym table. An
// unknown explicit value is general; with no explicit value the title is
// scanned for keywords.
func ResolveCategory(explicit string, title string) Category {
	key := strings.ToLower(strings.Join(strings.Fields(explicit), " "))
	if key != "" {
		if c, ok := categorySynonyms[key]; ok {
			return c
		}
		return CategoryGeneral
	}
	return inferCategory(title)
}

func inferCategory(title string) Category {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for i, w := range words {
		if i+1 < len(words) {
			if c, ok := categorySynonyms[w+" "+words[i+1]]; ok {
				return c
			}
		}
		if notInferredFromTitle[w] {
			continue
		}
		if c, ok := categorySynonyms[w]; ok {
			return c
		}
	}
	return CategoryGeneral
}
