package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory("u-1:Amaka Obi, u-2 : Tunde ,broken,:nobody,u-3:")
	assert.Equal(t, "Amaka Obi", d.DisplayName("u-1"))
	assert.Equal(t, "Tunde", d.DisplayName("u-2"))
	assert.Equal(t, "u-3", d.DisplayName("u-3"))
	assert.Equal(t, "System", d.DisplayName("system"))
	assert.Equal(t, "u-9", d.DisplayName("u-9"))

	d.Set("u-9", "Night Shift")
	assert.Equal(t, "Night Shift", d.DisplayName("u-9"))
}
