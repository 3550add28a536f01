package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func providersWith(configured ...string) Providers {
	ps := Providers{}
	for _, name := range []string{ProviderBrave, ProviderSerper, ProviderGoogleCSE} {
		ps[name] = &fakeProvider{name: name}
	}
	for _, name := range configured {
		ps[name].(*fakeProvider).configured = true
	}
	return ps
}

func TestResolveOrder_Explicit(t *testing.T) {
	assert.Equal(t, []string{"serper"}, ResolveOrder("serper", "", providersWith()))
	assert.Equal(t, []string{"none"}, ResolveOrder("none", "", providersWith("brave")))
}

func TestResolveOrder_AutoDefault(t *testing.T) {
	ps := providersWith(ProviderBrave, ProviderSerper, ProviderGoogleCSE)
	assert.Equal(t, []string{"google_cse", "brave", "serper"}, ResolveOrder("auto", "", ps))
}

func TestResolveOrder_AutoFiltersAndDedupes(t *testing.T) {
	ps := providersWith(ProviderSerper, ProviderBrave)
	got := ResolveOrder("auto", " Serper, bing, serper ,google_cse, brave", ps)
	assert.Equal(t, []string{"serper", "brave"}, got)
}

func TestResolveOrder_AutoFallsBackToNone(t *testing.T) {
	assert.Equal(t, []string{"none"}, ResolveOrder("auto", "", providersWith()))
}

func TestValidateRequested(t *testing.T) {
	ps := providersWith(ProviderBrave)

	assert.NoError(t, ps.ValidateRequested("auto"))
	assert.NoError(t, ps.ValidateRequested("none"))
	assert.NoError(t, ps.ValidateRequested("brave"))
	assert.ErrorIs(t, ps.ValidateRequested("serper"), ErrMissingCredentials)
	assert.ErrorIs(t, ps.ValidateRequested("bing"), ErrUnknownProvider)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("auto"))
	assert.True(t, Known("google_cse"))
	assert.False(t, Known("bing"))
}
