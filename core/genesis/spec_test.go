package genesis

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storechain/core/state"
	"storechain/crypto"
	"storechain/storage"
)

func TestSpecAppliesAllocationsOnce(t *testing.T) {
	raw1 := [20]byte{}
	copy(raw1[:], bytes.Repeat([]byte{0x01}, 20))
	bech := crypto.FromRaw(raw1).String()
	second := "0x" + strings.Repeat("02", 20)
	zero := "0x" + strings.Repeat("03", 20)

	spec, err := NewSpec(map[string]string{bech: "1000", second: "250", zero: "0"})
	require.NoError(t, err)
	allocs := spec.Allocations()
	require.Len(t, allocs, 2)
	require.Equal(t, raw1, allocs[0].Account)

	db := storage.NewMemDB()
	manager := state.NewManager(db)
	require.NoError(t, spec.Apply(manager))
	require.NoError(t, manager.Commit())

	balance, err := manager.Balance(raw1[:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), balance)

	reopened := state.NewManager(db)
	err = spec.Apply(reopened)
	require.True(t, errors.Is(err, ErrAlreadyApplied))
	balance, err = reopened.Balance(raw1[:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), balance)
}

func TestSpecRejectsInvalidEntries(t *testing.T) {
	cases := map[string]map[string]string{
		"bad address":  {"nope": "1"},
		"foreign hrp":  {"shop1qyqszqgpqyqszqgpqyqszqgpqyqszqgphkvq0a": "1"},
		"bad amount":   {"0x0101010101010101010101010101010101010101": "ten"},
		"negative":     {"0x0101010101010101010101010101010101010101": "-1"},
		"empty amount": {"0x0101010101010101010101010101010101010101": " "},
		"duplicate": {
			"0x0101010101010101010101010101010101010101": "1",
			"0X0101010101010101010101010101010101010101": "2",
		},
	}
	for name, alloc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSpec(alloc)
			require.Error(t, err)
		})
	}
}
