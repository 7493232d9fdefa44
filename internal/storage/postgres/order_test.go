package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout/internal/domain/order"
)

func TestAddressCodec(t *testing.T) {
	full := order.Address{
		Recipient: "Jo Tester", Phone: "+64 21 000 0000",
		Line1: "1 Main St", Line2: "Unit 4",
		City: "Testville", Region: "Otago",
		PostalCode: "9016", Country: "NZ",
	}

	got, err := decodeAddress(encodeAddress(full))
	require.NoError(t, err)
	assert.Equal(t, full, got)

	// Optional fields stay absent from the document, and the recipient key
	// keeps the exact name the List free-text search matches on.
	minimal := order.Address{
		Recipient: "Jo Tester", Line1: "1 Main St", City: "Testville",
		PostalCode: "9016", Country: "NZ",
	}
	raw := encodeAddress(minimal)
	assert.Contains(t, string(raw), `"recipient":"Jo Tester"`)
	assert.NotContains(t, string(raw), "phone")
	assert.NotContains(t, string(raw), "line2")

	got, err = decodeAddress(raw)
	require.NoError(t, err)
	assert.Equal(t, minimal, got)
}

func TestBuildOrderSort(t *testing.T) {
	orderBy, err := buildOrderSort("")
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY order_date DESC", orderBy)

	orderBy, err = buildOrderSort("total")
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY total ASC", orderBy)

	_, err = buildOrderSort("evil; DROP TABLE orders")
	require.Error(t, err)
}
