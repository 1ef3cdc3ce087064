package greetings

import (
	"fmt"

	"daymark/internal/types"
)

// AnniversaryStrategy renders the anniversary greeting.
type AnniversaryStrategy struct{}

// EventType implements Strategy.
func (AnniversaryStrategy) EventType() types.EventType { return types.EventAnniversary }

// Render implements Strategy.
func (AnniversaryStrategy) Render(user *types.User, year int) (Content, error) {
	if user.Anniversary == nil || user.Anniversary.IsZero() {
		return Content{}, types.NewAppError(types.ErrCodeMissingField,
			"user has no anniversary on file", nil)
	}

	name := user.DisplayName
	if name == "" {
		name = "there"
	}

	years := year - user.Anniversary.Year()
	if years > 0 {
		return Content{
			Subject: fmt.Sprintf("Happy anniversary, %s!", name),
			Body:    fmt.Sprintf("Hey %s, congratulations on %d wonderful years!", name, years),
		}, nil
	}

	return Content{
		Subject: fmt.Sprintf("Happy anniversary, %s!", name),
		Body:    fmt.Sprintf("Hey %s, happy anniversary!", name),
	}, nil
}
