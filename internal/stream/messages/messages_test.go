package messages

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AddStreamRequest(t *testing.T) {
	in := AddStreamRequest{StreamID: uuid.New(), StreamType: []byte("foo"), Metadata: []byte{0, 0, 0, 1}}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode[AddStreamRequest](b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecode_RejectsMissingStreamID(t *testing.T) {
	b, err := Encode(PushStreamRequest{Payload: []byte("data")})
	require.NoError(t, err)

	_, err = Decode[PushStreamRequest](b)
	require.ErrorIs(t, err, errMissingStreamID)
}

func TestDecode_RejectsMissingStreamType(t *testing.T) {
	b, err := Encode(AddStreamRequest{StreamID: uuid.New()})
	require.NoError(t, err)

	_, err = Decode[AddStreamRequest](b)
	require.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[RemoveStreamRequest]([]byte("{"))
	require.Error(t, err)
}
