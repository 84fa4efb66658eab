package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocationString(t *testing.T) {
	assert.Equal(t, "<module>", Location{}.String())
	assert.Equal(t, "f", Location{Function: "f"}.String())
	assert.Equal(t, "f:blk", Location{Function: "f", Block: "blk", Index: -1}.String())
	assert.Equal(t, "f:blk:3", Location{Function: "f", Block: "blk", Index: 3}.String())
}

func TestReporterHasErrors(t *testing.T) {
	r := NewReporter()
	assert.False(t, r.HasErrors())

	r.Report(Diagnostic{Level: Warning, Message: "just a warning"})
	assert.False(t, r.HasErrors())

	r.Report(Diagnostic{Level: Error, Code: CodeVerificationFailed, Message: "bad module"})
	assert.True(t, r.HasErrors())
	assert.Len(t, r.All(), 2)
}

func TestFormatOneIncludesCodeAndLocation(t *testing.T) {
	out := FormatOne(Diagnostic{
		Level:    Error,
		Code:     CodeEncodingLimit,
		Message:  "offset too large",
		Location: Location{Function: "f", Block: "entry", Index: 2},
		Notes:    []string{"consider a smaller constant"},
	})
	assert.Contains(t, out, CodeEncodingLimit)
	assert.Contains(t, out, "offset too large")
	assert.Contains(t, out, "f:entry:2")
	assert.Contains(t, out, "consider a smaller constant")
}
