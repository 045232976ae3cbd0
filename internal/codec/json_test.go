package codec

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type placeOrder struct {
	ID   string `json:"id"`
	Qty  int    `json:"qty"`
	Note string `json:"note"`
}

type cancelOrder struct {
	ID string `json:"id"`
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register("order.place", placeOrder{}))
	require.NoError(t, r.Register("order.cancel", &cancelOrder{}))
	return r
}

func TestJSON_SerializeGolden(t *testing.T) {
	j := NewJSON(testRegistry(t))

	data, err := j.Serialize(placeOrder{ID: "o-1", Qty: 3, Note: "<b>&"})
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "order_place", data)
}

func TestJSON_RoundTripValueAndPointer(t *testing.T) {
	j := NewJSON(testRegistry(t))

	data, err := j.Serialize(placeOrder{ID: "o-1", Qty: 3})
	require.NoError(t, err)
	got, err := j.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, placeOrder{ID: "o-1", Qty: 3}, got)

	data, err = j.Serialize(&cancelOrder{ID: "o-2"})
	require.NoError(t, err)
	got, err = j.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, &cancelOrder{ID: "o-2"}, got)
}

func TestJSON_UnregisteredType(t *testing.T) {
	j := NewJSON(testRegistry(t))

	_, err := j.Serialize(cancelOrder{ID: "value-not-pointer"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = j.Deserialize([]byte(`{"type":"order.refund","body":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestJSON_CorruptPayload(t *testing.T) {
	j := NewJSON(testRegistry(t))

	_, err := j.Deserialize([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = j.Deserialize([]byte(`{"type":"order.place","body":{"id":"x","bogus":1}}`))
	assert.Error(t, err)
}

func TestJSON_Decode(t *testing.T) {
	j := NewJSON(testRegistry(t))

	got, err := j.Decode("order.place", []byte(`{"id":"o-9","qty":1}`))
	require.NoError(t, err)
	assert.Equal(t, placeOrder{ID: "o-9", Qty: 1}, got)

	got, err = j.Decode("order.cancel", nil)
	require.NoError(t, err)
	assert.Equal(t, &cancelOrder{}, got)
}

func TestRegistry_Conflicts(t *testing.T) {
	r := testRegistry(t)

	// Same binding twice is fine.
	assert.NoError(t, r.Register("order.place", placeOrder{}))
	assert.Error(t, r.Register("order.place", cancelOrder{}))
	assert.Error(t, r.Register("order.other", placeOrder{}))
	assert.Error(t, r.Register("", placeOrder{}))
	assert.Error(t, r.Register("nil", nil))
	assert.Panics(t, func() { r.MustRegister("", placeOrder{}) })

	assert.Equal(t, []string{"order.cancel", "order.place"}, r.Names())
}
