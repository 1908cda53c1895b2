package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLEI(t *testing.T) {
	assert.NoError(t, LEI("5493001KJTIIGC8Y1R12"))
	assert.NoError(t, LEI("hwupkr0mpou8fgxbt394"))
	assert.Error(t, LEI("5493001KJTIIGC8Y1R13"), "check digits")
	assert.Error(t, LEI("5493001KJTIIGC8Y1R1"), "length")
	assert.Error(t, LEI("5493001KJTIIGC8Y1RAB"), "non-numeric check digits")
}

func TestVATNumber(t *testing.T) {
	assert.NoError(t, VATNumber("DE123456789"))
	assert.NoError(t, VATNumber("fr 12.345-678 901"))
	assert.NoError(t, VATNumber("ATU12345678"))
	assert.Error(t, VATNumber("123456789"))
	assert.Error(t, VATNumber("DE"))
	assert.Error(t, VATNumber("DE12345678901234"))
}

func TestVATWithCountry(t *testing.T) {
	assert.Equal(t, "DE123456789", VATWithCountry("123456789", "de"))
	assert.Equal(t, "DE123456789", VATWithCountry("DE 123 456 789", "DE"))
	assert.Equal(t, "EL094259216", VATWithCountry("094259216", "GR"))
}
