package decoder

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"telemetry-ingest/internal/models"
)

// GPSTimeMode selects how the GPS Time field is interpreted
type GPSTimeMode int

const (
	// GPSTimeAuto treats decimals as epoch seconds and six digits as HHMMSS
	GPSTimeAuto GPSTimeMode = iota
	// GPSTimeEpoch always reads seconds since the epoch
	GPSTimeEpoch
	// GPSTimeOfDay always reads HHMMSS on the current UTC day
	GPSTimeOfDay
)

// ParseGPSTimeMode parses a configuration value
func ParseGPSTimeMode(s string) (GPSTimeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return GPSTimeAuto, nil
	case "epoch":
		return GPSTimeEpoch, nil
	case "time_of_day", "hhmmss":
		return GPSTimeOfDay, nil
	}
	return 0, fmt.Errorf("unknown GPS time mode %q", s)
}

const gpsSource = "GPS"

var gpsPattern = regexp.MustCompile(
	`Latitude: (-?\d+(?:\.\d+)?) ([NS]), ` +
		`Longitude: (-?\d+(?:\.\d+)?) ([EW]), ` +
		`Altitude: (-?\d+(?:\.\d+)?) meters, ` +
		`HDOP: (-?\d+(?:\.\d+)?), ` +
		`Satellites: (\d+), ` +
		`Fix: (\d+), ` +
		`Time: (\d+(?:\.\d+)?)`)

// ParseGPS decodes a GPS text record. now supplies the current UTC day for
// time-of-day timestamps.
func ParseGPS(body []byte, mode GPSTimeMode, now time.Time) (*models.GpsFix, error) {
	m := gpsPattern.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("GPS payload does not match grammar")
	}

	fix := &models.GpsFix{
		LatHemisphere:  string(m[2]),
		LongHemisphere: string(m[4]),
	}
	floats := []struct {
		dst *float64
		src []byte
	}{
		{&fix.Latitude, m[1]},
		{&fix.Longitude, m[3]},
		{&fix.AltitudeM, m[5]},
		{&fix.HDOP, m[6]},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(string(f.src), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f.src, err)
		}
		*f.dst = v
	}
	fix.Latitude = math.Abs(fix.Latitude)
	fix.Longitude = math.Abs(fix.Longitude)

	var err error
	if fix.Satellites, err = strconv.Atoi(string(m[7])); err != nil {
		return nil, fmt.Errorf("invalid satellite count %q: %w", m[7], err)
	}
	if fix.Fix, err = strconv.Atoi(string(m[8])); err != nil || fix.Fix > 1 {
		return nil, fmt.Errorf("invalid fix quality %q", m[8])
	}

	if fix.Timestamp, err = gpsTimestamp(string(m[9]), mode, now); err != nil {
		return nil, err
	}
	fix.RawHex = fmt.Sprintf("%x", body)
	return fix, nil
}

func gpsTimestamp(token string, mode GPSTimeMode, now time.Time) (float64, error) {
	if mode == GPSTimeAuto {
		mode = GPSTimeEpoch
		if len(token) == 6 && !strings.Contains(token, ".") {
			mode = GPSTimeOfDay
		}
	}

	if mode == GPSTimeEpoch {
		v, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid GPS time %q: %w", token, err)
		}
		return v, nil
	}

	whole, frac, _ := strings.Cut(token, ".")
	if len(whole) != 6 {
		return 0, fmt.Errorf("GPS time %q is not HHMMSS", token)
	}
	hh, _ := strconv.Atoi(whole[0:2])
	mm, _ := strconv.Atoi(whole[2:4])
	ss, _ := strconv.Atoi(whole[4:6])
	if hh > 23 || mm > 59 || ss > 59 {
		return 0, fmt.Errorf("GPS time %q out of range", token)
	}
	fraction := 0.0
	if frac != "" {
		fraction, _ = strconv.ParseFloat("0."+frac, 64)
	}

	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return float64(midnight.Unix()) + float64(hh*3600+mm*60+ss) + fraction, nil
}

// gpsMeasurements emits one measurement per field; coordinates are signed
func gpsMeasurements(fix *models.GpsFix) []models.Measurement {
	ts := fix.Timestamp
	mk := func(class, name string, v any) models.Measurement {
		return models.Measurement{Name: name, Class: class, Source: gpsSource, Value: v, Timestamp: ts}
	}
	return []models.Measurement{
		mk("Latitudes", "Latitude", fix.SignedLatitude()),
		mk("Latsides", "Latside", fix.LatHemisphere),
		mk("Longitudes", "Longitude", fix.SignedLongitude()),
		mk("Longsides", "Longside", fix.LongHemisphere),
		mk("Altitudes", "Altitude", fix.AltitudeM),
		mk("HDOPs", "HDOP", fix.HDOP),
		mk("Satellites_Counts", "Satellites", int64(fix.Satellites)),
		mk("Fixs", "Fix", int64(fix.Fix)),
		mk("Timestamps", "Timestamp", ts),
	}
}
