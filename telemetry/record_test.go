package telemetry

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncoding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		r      Record
		expect []byte
	}{
		{Sentinel, []byte{0x00, 0x00}},
		{Record{Status: StatusNominal, Temperature: 25}, []byte{0x01, 0x19}},
		{Record{Status: StatusNominal, Temperature: -5}, []byte{0x01, 0xfb}},
		{FaultRecord, []byte{0xff, 0x00}},
	}
	for _, c := range cases {
		b, err := c.r.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, c.expect, b, "record=%s", c.r.String())
		assert.Equal(t, RecordSize, len(b))

		var buf [8]byte
		n, err := c.r.PutBinary(buf[:])
		require.NoError(t, err)
		assert.Equal(t, c.expect, buf[:n])

		var back Record
		require.NoError(t, back.UnmarshalBinary(b))
		assert.Equal(t, c.r, back)
	}
}

func TestRecordInvalid(t *testing.T) {
	t.Parallel()

	var r Record
	assert.True(t, errors.IsNotValid(r.UnmarshalBinary([]byte{1})))
	assert.True(t, errors.IsNotValid(r.UnmarshalBinary([]byte{1, 2, 3})))
	_, err := r.PutBinary(make([]byte, 1))
	assert.True(t, errors.IsNotValid(err))
}

func TestRecordString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(sentinel)", Sentinel.String())
	assert.Equal(t, "(sensor fault)", FaultRecord.String())
	assert.Equal(t, "(status=1 temperature=25C)", Record{Status: 1, Temperature: 25}.String())
}
