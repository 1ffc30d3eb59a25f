package instruction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/chainoracle/internal/instruction"
	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

func TestPackUnpack(t *testing.T) {
	a := key.Key32{1}
	b := key.Key32{2}

	cases := []struct {
		ix      instruction.Instruction
		wireLen int
	}{
		{instruction.Init{InitialCommitment: a}, 33},
		{instruction.Advance{Next: a, Secret: b}, 65},
		{instruction.BumpPointer{}, 1},
		{instruction.RegisterCallback{Address: b}, 33},
	}
	for _, tc := range cases {
		t.Run(tc.ix.Tag().String(), func(t *testing.T) {
			data := instruction.Pack(tc.ix)
			require.Len(t, data, tc.wireLen)
			assert.Equal(t, byte(tc.ix.Tag()), data[0])

			got, err := instruction.Unpack(data)
			require.NoError(t, err)
			assert.Equal(t, tc.ix, got)
		})
	}
}

func TestPack_initUsesTagZero(t *testing.T) {
	data := instruction.Pack(instruction.Init{InitialCommitment: key.Key32{9}})
	assert.Equal(t, byte(0), data[0])
	assert.Equal(t, byte(9), data[1])
}

func TestPack_advanceLayout(t *testing.T) {
	data := instruction.Pack(instruction.Advance{Next: key.Key32{7}, Secret: key.Key32{8}})
	assert.Equal(t, byte(7), data[1])
	assert.Equal(t, byte(8), data[33])
}

func TestUnpack_invalid(t *testing.T) {
	cases := map[string][]byte{
		"empty":             nil,
		"unknown tag":       {4},
		"high tag":          {0xff, 0, 0},
		"init short":        append([]byte{0}, make([]byte, 31)...),
		"init trailing":     append([]byte{0}, make([]byte, 33)...),
		"advance short":     append([]byte{1}, make([]byte, 63)...),
		"advance key only":  append([]byte{1}, make([]byte, 32)...),
		"bump trailing":     {2, 0},
		"register no key":   {3},
		"register trailing": append([]byte{3}, make([]byte, 40)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := instruction.Unpack(data)
			assert.ErrorIs(t, err, programerr.ErrInvalidInstruction)
		})
	}
}

func TestUnpack_noSemanticValidation(t *testing.T) {
	ix, err := instruction.Unpack(make([]byte, 33))
	require.NoError(t, err)
	assert.Equal(t, instruction.Init{}, ix)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "Advance", instruction.TagAdvance.String())
	assert.Equal(t, "Unknown", instruction.Tag(42).String())
}
