package location

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		fix     Fix
		wantErr bool
	}{
		{"origin", Fix{}, false},
		{"bangalore", Fix{Latitude: 12.9, Longitude: 77.6}, false},
		{"poles and antimeridian", Fix{Latitude: -90, Longitude: 180}, false},
		{"nan latitude", Fix{Latitude: math.NaN(), Longitude: 1}, true},
		{"inf longitude", Fix{Latitude: 1, Longitude: math.Inf(1)}, true},
		{"latitude too big", Fix{Latitude: 90.0001}, true},
		{"longitude too small", Fix{Longitude: -180.5}, true},
	}
	for _, tc := range cases {
		err := tc.fix.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestDistanceMeters(t *testing.T) {
	a := Fix{Latitude: 0, Longitude: 0}
	b := Fix{Latitude: 0, Longitude: 1}
	got := DistanceMeters(a, b)
	// one degree of longitude at the equator
	if math.Abs(got-111195) > 50 {
		t.Fatalf("DistanceMeters = %.0f, want about 111195", got)
	}
	if d := DistanceMeters(a, a); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
}

func TestWithSourceCopies(t *testing.T) {
	f := Fix{Latitude: 1, Longitude: 2, Source: SourceGPS}
	g := f.WithSource(SourceGPSCached)
	if f.Source != SourceGPS || g.Source != SourceGPSCached {
		t.Fatalf("sources = %q, %q", f.Source, g.Source)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&Error{Kind: NetworkUnavailable, Stage: StageIP, Err: cause})

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find the cause")
	}
	var le *Error
	if !errors.As(err, &le) || le.Kind != NetworkUnavailable {
		t.Fatalf("errors.As = %v", le)
	}
	if got, want := err.Error(), "ip_geolocation: NetworkUnavailable: dial tcp: refused"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := ErrorKind(42).String(); got != "ErrorKind(42)" {
		t.Fatalf("unknown kind = %q", got)
	}
}

type countingSink struct {
	NopSink
	fixes, errs int
}

func (c *countingSink) OnFix(Fix) { c.fixes++ }
func (c *countingSink) OnError(ErrorKind, StageID) { c.errs++ }

func TestTee(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	s := Tee(a, b)
	s.OnFix(Fix{})
	s.OnError(DecodeFailure, StageIP)
	s.OnDenied("no")
	s.OnAutoEnabled(StageGPS)
	s.OnPermissionRequired()

	for i, c := range []*countingSink{a, b} {
		if c.fixes != 1 || c.errs != 1 {
			t.Fatalf("sink %d saw %d fixes, %d errors, want 1 each", i, c.fixes, c.errs)
		}
	}
}

func TestModeString(t *testing.T) {
	if OneShot.String() != "one_shot" || AutoEnable.String() != "auto_enable" {
		t.Fatalf("mode strings = %q, %q", OneShot, AutoEnable)
	}
}
