package passframework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	info := PassInfo{Name: "dummy", Description: "does nothing"}
	r.Register(info, func() AnyPass { return &stubFunctionPass{} })

	got, ok := r.Get("dummy")
	require.True(t, ok)
	require.NotNil(t, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	r := NewRegistry()
	info := PassInfo{Name: "dup"}
	r.Register(info, func() AnyPass { return &stubFunctionPass{} })

	assert.Panics(t, func() {
		r.Register(info, func() AnyPass { return &stubFunctionPass{} })
	})
}

func TestRegistryAllPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"first", "second", "third"}
	for _, n := range names {
		r.Register(PassInfo{Name: n}, func() AnyPass { return &stubFunctionPass{} })
	}

	all := r.All()
	require.Len(t, all, len(names))
	for i, info := range all {
		assert.Equal(t, names[i], info.Name)
	}
}

func TestRegistrySelectionIncludesNilAndNamed(t *testing.T) {
	var nilSel Selection
	assert.True(t, nilSel.Includes("anything"))

	sel := Selection{"foo": true}
	assert.True(t, sel.Includes("foo"))
	assert.False(t, sel.Includes("bar"))
}

// stubFunctionPass stands in for a real pass in registry tests, which only
// exercise registration/lookup bookkeeping and never call RunOnFunction.
type stubFunctionPass struct{}

func (s *stubFunctionPass) Info() PassInfo { return PassInfo{Name: "stub"} }
