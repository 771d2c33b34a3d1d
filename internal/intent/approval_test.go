package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsApprovalPhrase(t *testing.T) {
	approve := []string{
		"Yes, please proceed",
		"yes",
		"OK",
		"okay!",
		"go   ahead",
		"Go ahead with it",
		"run it now",
		"do it.",
		"Approved",
		"start",
		"yep 👍",
	}
	for _, text := range approve {
		assert.True(t, IsApprovalPhrase(text), text)
	}

	reject := []string{
		"yesterday was fine",
		"okey dokey",
		"please proceed",
		"starter pack",
		"going ahead",
		"",
		"   ",
		"no",
	}
	for _, text := range reject {
		assert.False(t, IsApprovalPhrase(text), text)
	}
}
