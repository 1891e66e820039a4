package transform

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		country string
		want    string
	}{
		{"blank passes through", "", "234", ""},
		{"local with leading zero", "08031234567", "234", "+2348031234567"},
		{"already e164", "+2348031234567", "234", "+2348031234567"},
		{"international 00 prefix", "0023480312345", "234", "+23480312345"},
		{"already has country code", "2348031234567", "234", "+2348031234567"},
		{"bare subscriber number", "8031234567", "234", "+2348031234567"},
		{"separators stripped", "0803-123-4567", "234", "+2348031234567"},
		{"no country code long number", "8031234567", "", "+8031234567"},
		{"no country code short number", "80312", "", "+80312"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizePhone(tc.raw, tc.country); got != tc.want {
				t.Errorf("NormalizePhone(%q, %q) = %q, want %q", tc.raw, tc.country, got, tc.want)
			}
		})
	}
}
