package subcmd

import (
	"context"
	"testing"

	"github.com/cubesat-eps/eps/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *state.Config) error { return nil }
	mods := []Mod{{Name: "node", Main: noop}, {Name: "probe", Main: noop}}

	m, err := Parse("probe", mods)
	require.NoError(t, err)
	assert.Equal(t, "probe", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("shmoo", mods)
	assert.EqualError(t, err, "unknown command='shmoo'")
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
