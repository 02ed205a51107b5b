package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	e1, e2 := fmt.Errorf("bind"), fmt.Errorf("listen")
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	assert.Equal(t, e2, FoldErrors([]error{nil, e2}))
	assert.EqualError(t, FoldErrors([]error{e1, nil, e2}), "bind\nlisten")
}
