package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeKinds(t *testing.T) {
	assert.True(t, Pass("a").Passed())
	assert.False(t, Pass("a").IsFailure())
	assert.True(t, Fail("a", "boom").IsFailure())
	assert.True(t, Crash("a", "segv").IsFailure())
	assert.False(t, Skip("a", "later").IsFailure())
	assert.True(t, Skip("a", "later").Skipped())
}

func TestOutcomeValidate(t *testing.T) {
	assert.NoError(t, Pass("a").Validate())
	assert.Error(t, Outcome{ItemID: "a", Kind: "weird"}.Validate())
	assert.Error(t, Outcome{Kind: Passed}.Validate())
}

func TestParseFilterIgnoresBareDash(t *testing.T) {
	f := ParseFilter("  -  ")
	assert.True(t, f.Empty())
	assert.True(t, f.Match(Item{ID: "x"}))
}
