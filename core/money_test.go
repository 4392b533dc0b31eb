package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestFormatAmount(t *testing.T) {
	check.Equal(t, "123.45", FormatAmount(12345))
	check.Equal(t, "0.00", FormatAmount(0))
	check.Equal(t, "0.05", FormatAmount(5))
	check.Equal(t, "-10.00", FormatAmount(-1000))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"plain", "123.45", 12345, false},
		{"no fraction", "100", 10000, false},
		{"one decimal place", "9.5", 950, false},
		{"zero", "0", 0, false},
		{"too much precision", "1.005", 0, true},
		{"not a number", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			check.Nil(t, err)
			check.Equal(t, tt.want, got)
		})
	}
}
