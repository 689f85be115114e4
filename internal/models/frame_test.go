package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGpsFixJSONHemispheres(t *testing.T) {
	fix := &GpsFix{Latitude: 49.2638, LatHemisphere: "N", Longitude: 123.246, LongHemisphere: "W"}
	data, err := json.Marshal(fix)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"lat_hemisphere":"N"`, `"long_hemisphere":"W"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("%s missing %s", data, want)
		}
	}
	if fix.SignedLongitude() != -123.246 || fix.SignedLatitude() != 49.2638 {
		t.Fatalf("signed = %v, %v", fix.SignedLatitude(), fix.SignedLongitude())
	}
}
