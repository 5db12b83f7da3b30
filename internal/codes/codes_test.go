package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	cases := []struct {
		name    string
		table   Table
		raw     string
		want    string
		wantErr error
	}{
		{name: "organization", table: ReceiverKinds, raw: "1", want: "ul"},
		{name: "self employed", table: ReceiverKinds, raw: "3", want: "npd"},
		{name: "category with spaces", table: ReceiverCategories, raw: " 2 ", want: "small"},
		{name: "none category", table: ReceiverCategories, raw: "4", want: CategoryNone},
		{name: "percent", table: SizeUnits, raw: "4", want: "percent"},
		{name: "out of range", table: SizeUnits, raw: "6", wantErr: ErrOutOfRange},
		{name: "zero", table: ReceiverKinds, raw: "0", wantErr: ErrOutOfRange},
		{name: "not a number", table: ReceiverCategories, raw: "small", wantErr: ErrMalformed},
		{name: "empty", table: SizeUnits, raw: "", wantErr: ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.table.Lookup(tc.raw)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLabelErrorNamesTable(t *testing.T) {
	_, err := SizeUnits.Label(9)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Contains(t, err.Error(), "size_unit 9")
}

func TestBool(t *testing.T) {
	v, err := Bool("1")
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool("2")
	require.NoError(t, err)
	assert.False(t, v)

	_, err = Bool("3")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Bool("да")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestForm(t *testing.T) {
	code, ok := Form("0200")
	assert.True(t, ok)
	assert.Equal(t, "0200", code)

	code, ok = Form("200")
	assert.False(t, ok)
	assert.Equal(t, FormUnknown, code)

	code, ok = Form("")
	assert.False(t, ok)
	assert.Equal(t, FormUnknown, code)
}
