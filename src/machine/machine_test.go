package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckRAM(t *testing.T) {
	assert.NoError(t, CheckRAM(RAMBase, DefaultRAMSize))
	assert.ErrorIs(t, CheckRAM(RAMBase, 0), ErrRAMSize)
	assert.ErrorIs(t, CheckRAM(RAMBase, 6), ErrRAMSize)
	assert.ErrorIs(t, CheckRAM(RAMBase, MaxRAMSize+4), ErrRAMTooLarge)
	assert.ErrorIs(t, CheckRAM(0xffff0000, 0x20000), ErrRAMTooLarge)
}

func TestStackTop(t *testing.T) {
	assert.Equal(t, uint32(0x8000fff0), StackTop(RAMBase, DefaultRAMSize))
	assert.Equal(t, uint32(0x8000fff0), StackTop(RAMBase, DefaultRAMSize+4))
}

func TestInMMIO(t *testing.T) {
	assert.True(t, InMMIO(UART0))
	assert.True(t, InMMIO(UART0LineStatus))
	assert.False(t, InMMIO(TestFinisher))
	assert.False(t, InMMIO(RAMBase))
}
