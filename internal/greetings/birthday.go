package greetings

import (
	"fmt"

	"daymark/internal/types"
)

// BirthdayStrategy renders the birthday greeting.
type BirthdayStrategy struct{}

// EventType implements Strategy.
func (BirthdayStrategy) EventType() types.EventType { return types.EventBirthday }

// Render implements Strategy. The age is derived from the birth year when
// it is plausible; users imported without a birth year (year zero or in the
// future) get the ageless variant.
func (BirthdayStrategy) Render(user *types.User, year int) (Content, error) {
	if user.Birthday.IsZero() {
		return Content{}, types.NewAppError(types.ErrCodeMissingField,
			"user has no birthday on file", nil)
	}

	name := user.DisplayName
	if name == "" {
		name = "there"
	}

	age := year - user.Birthday.Year()
	if age > 0 && age < 130 {
		return Content{
			Subject: fmt.Sprintf("Happy birthday, %s!", name),
			Body:    fmt.Sprintf("Hey %s, happy %s birthday! Have a wonderful day.", name, ordinal(age)),
		}, nil
	}

	return Content{
		Subject: fmt.Sprintf("Happy birthday, %s!", name),
		Body:    fmt.Sprintf("Hey %s, happy birthday! Have a wonderful day.", name),
	}, nil
}

// ordinal formats n as an English ordinal (1st, 2nd, 3rd, 11th, 21st...).
func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
		// teens are always "th"
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
