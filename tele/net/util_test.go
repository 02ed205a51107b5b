package telenet

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input   string
		scheme  string
		address string
		err     string
	}{
		{"tcp://:7001", "tcp", ":7001", ""},
		{"tcp://127.0.0.1:7001", "tcp", "127.0.0.1:7001", ""},
		{"unix:///run/eps.sock", "unix", "/run/eps.sock", ""},
		{"unix://", "", "", "without path"},
		{"tls://:7001", "", "", "not supported"},
		{"7001", "", "", "invalid URI"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			scheme, address, err := parseURI(c.input)
			if c.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.scheme, scheme)
			assert.Equal(t, c.address, address)
		})
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(ErrClosing))
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTimeout(errors.Annotate(ErrTimeout, "accept")))
	assert.True(t, IsTimeout(errors.Timeoutf("spi")))
	assert.True(t, IsTimeout(fmt.Errorf("read tcp 127.0.0.1:7001: i/o timeout")))
}
