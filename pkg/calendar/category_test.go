package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCategory(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		title    string
		expected Category
	}{
		{"explicit canonical", "activity", "", CategoryActivity},
		{"explicit synonym", "Doctor", "", CategoryAppointment},
		{"explicit multi-word synonym", "Family  Meeting", "", CategoryMeeting},
		{"explicit date night spelling", "datenight", "", CategoryDateNight},
		{"explicit unknown", "spaceflight", "Dentist", CategoryGeneral},
		{"explicit wins over title", "task", "Soccer practice", CategoryTask},
		{"inferred from abbreviation", "", "Dr. Smith checkup", CategoryAppointment},
		{"inferred from keyword", "", "Soccer practice", CategoryActivity},
		{"inferred from two words", "", "Date night at Luigi's", CategoryDateNight},
		{"inferred birthday", "", "Emma's bday", CategoryBirthday},
		{"inferred homework", "", "Math homework due", CategoryTask},
		{"bare date is not a date night", "", "Due date for taxes", CategoryGeneral},
		{"no keyword", "", "Pick up groceries", CategoryGeneral},
		{"empty title", "", "", CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveCategory(tt.explicit, tt.title))
		})
	}
}
