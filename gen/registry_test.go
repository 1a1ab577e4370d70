package gen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrean/genstudio/types"
)

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	r.Register(&fakeAdapter{caps: Capabilities{Name: "beta"}})
	r.Register(&fakeAdapter{caps: Capabilities{Name: "alpha"}})

	got, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Capabilities().Name)

	assert.Equal(t, []string{"alpha", "beta"}, r.List())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	var gerr *types.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "nope", gerr.Provider)
}

func TestRegistryReplacesSameName(t *testing.T) {
	r := NewRegistry()
	first := &fakeAdapter{caps: Capabilities{Name: "p", DisplayName: "one"}}
	second := &fakeAdapter{caps: Capabilities{Name: "p", DisplayName: "two"}}
	r.Register(first)
	r.Register(second)

	got, err := r.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Capabilities().DisplayName)
	assert.Equal(t, 1, r.Len())
}
