package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	cols, rows, err := ParseCSV([]byte("\xEF\xBB\xBFWell_ID, Lat ,Lon\nW1,25.3,82.9\n\nW2,\"25,4\",83\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"Well_ID", "Lat", "Lon"}, cols)
	require.Equal(t, []Record{
		{"Well_ID": "W1", "Lat": "25.3", "Lon": "82.9"},
		{"Well_ID": "W2", "Lat": "25,4", "Lon": "83"},
	}, rows)
}

func TestParseCSVKeepsCellWhitespace(t *testing.T) {
	cols, rows, err := ParseCSV([]byte("Well_ID,Remarks\n\"W1\",\"  near canal \"\nW2, dry \n"))
	require.NoError(t, err)
	require.Equal(t, []string{"Well_ID", "Remarks"}, cols)
	require.Equal(t, "  near canal ", rows[0]["Remarks"])
	require.Equal(t, " dry ", rows[1]["Remarks"])
}

func TestParseCSVStructureErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"empty file", "", "file is empty"},
		{"header only", "a,b\n", "no data rows"},
		{"empty header", "a,,c\n1,2,3\n", "header column 2 is empty"},
		{"duplicate header", "a,b,a\n1,2,3\n", `duplicate header "a"`},
		{"ragged row", "a,b\n1,2\n3\n", "line 3 does not match the header column count"},
		{"bare quote", "a,b\n1,x\"y\n", "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseCSV([]byte(tt.data))
			require.ErrorIs(t, err, ErrInvalidFile)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestString(t *testing.T) {
	require.Equal(t, "", String(nil))
	require.Equal(t, "12", String(12.0))
	require.Equal(t, "25.35", String(25.35))
	require.Equal(t, "7", String(7))
	require.Equal(t, "abc", String("abc"))
}
