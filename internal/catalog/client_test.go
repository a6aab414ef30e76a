package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	queue   string
	command string
	payload any
	reply   string
	err     error
}

func (f *fakeCaller) Call(ctx context.Context, queue, command string, payload, out any) error {
	f.queue, f.command, f.payload = queue, command, payload
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func TestValidateProducts_DecodesCatalogPrices(t *testing.T) {
	caller := &fakeCaller{reply: `[{"id":1,"name":"Keyboard","price":10.5},{"id":2,"name":"Mouse","price":"5.00"}]`}
	c := NewClient(caller, "products.rpc")

	products, err := c.ValidateProducts(context.Background(), []int{1, 2})
	require.NoError(t, err)

	assert.Equal(t, "products.rpc", caller.queue)
	assert.Equal(t, "validate_products", caller.command)
	assert.Equal(t, []int{1, 2}, caller.payload)

	require.Len(t, products, 2)
	assert.Equal(t, "Keyboard", products[0].Name)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, products[1].Price.Equal(decimal.NewFromInt(5)))
}

func TestValidateProducts_WrapsTransportError(t *testing.T) {
	cause := errors.New("rpc timeout")
	c := NewClient(&fakeCaller{err: cause}, "products.rpc")

	products, err := c.ValidateProducts(context.Background(), []int{7})
	require.ErrorIs(t, err, cause)
	assert.Nil(t, products)
}
