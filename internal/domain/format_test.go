package domain

import "testing"

func TestFormatRupiah(t *testing.T) {
	cases := []struct {
		amount int64
		want   string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1.000"},
		{65000, "65.000"},
		{1234567, "1.234.567"},
		{100000000, "100.000.000"},
		{-1500, "-1.500"},
	}
	for _, tc := range cases {
		if got := FormatRupiah(tc.amount); got != tc.want {
			t.Errorf("FormatRupiah(%d) = %q, want %q", tc.amount, got, tc.want)
		}
	}
}
