package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FullRecord(t *testing.T) {
	b := []byte(`{"SoupPartition":2,"soupSequence":991,"trackingID":"34200000000000","msgType":"T",
		"marketCenter":"Q","symbol":"AAPL","securityClass":"Q","controlNumber":"1234",
		"price":1852500,"size":100,"saleCondition":"@","consolidatedVolume":55000}`)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Partition)
	assert.Equal(t, int64(991), m.Sequence)
	assert.Equal(t, "34200000000000", m.TrackingID)
	assert.Equal(t, "T", m.MsgType)
	assert.Equal(t, "AAPL", m.Symbol)
	require.NotNil(t, m.Price)
	assert.Equal(t, int64(1852500), *m.Price)
	assert.Equal(t, int64(55000), m.ConsolidatedVolume)
}

func TestDecode_MissingPrice(t *testing.T) {
	m, err := Decode([]byte(`{"trackingID":"34200000000000","msgType":"H","symbol":"MSFT"}`))
	require.NoError(t, err)
	assert.Nil(t, m.Price)
	assert.Equal(t, "H", m.MsgType)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"trackingID":`))
	require.Error(t, err)

	var de *DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestEncode_Decodes(t *testing.T) {
	p := int64(42)
	b, err := Encode(RawMessage{TrackingID: "00000000000001", MsgType: "T", Symbol: "X", Price: &p})
	require.NoError(t, err)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "X", m.Symbol)
	assert.Equal(t, int64(42), *m.Price)
}
