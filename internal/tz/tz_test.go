package tz

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

var errDown = errors.New("service unavailable")

func failing(context.Context) (string, error) { return "", errDown }

func fixed(v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return v, nil }
}

func TestResolveCalendarWins(t *testing.T) {
	got := Resolve(context.Background(), FuncSettings{
		Calendar: fixed("Asia/Tokyo"),
		Session:  fixed("Europe/Paris"),
	}, nil)
	want := Resolved{Name: "Asia/Tokyo", Source: SourceCalendar}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestResolveCalendarFailureAdvancesToSession(t *testing.T) {
	got := Resolve(context.Background(), FuncSettings{
		Calendar: failing,
		Session:  fixed("Europe/Paris"),
	}, nil)
	want := Resolved{Name: "Europe/Paris", Source: SourceSession}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestResolveInvalidZoneAdvances(t *testing.T) {
	// A setting that returns garbage is as unusable as one that
	// fails outright.
	got := Resolve(context.Background(), FuncSettings{
		Calendar: fixed("Not/AZone"),
		Session:  fixed("America/New_York"),
	}, nil)
	want := Resolved{Name: "America/New_York", Source: SourceSession}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestResolveLocaleJapanese(t *testing.T) {
	got := Resolve(context.Background(), FuncSettings{
		Calendar: failing,
		Session:  failing,
		Locale:   fixed("ja"),
	}, nil)
	want := Resolved{Name: "Asia/Tokyo", Source: SourceLocale}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestResolveUnmappedLocaleDefaultsToUTC(t *testing.T) {
	got := Resolve(context.Background(), FuncSettings{
		Calendar: failing,
		Session:  failing,
		Locale:   fixed("xx-YY"),
	}, nil)
	want := Resolved{Name: "UTC", Source: SourceDefault}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestResolveAllSourcesAbsent(t *testing.T) {
	got := Resolve(context.Background(), FuncSettings{}, nil)
	want := Resolved{Name: "UTC", Source: SourceDefault}
	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestZoneForLocale(t *testing.T) {
	cases := []struct {
		locale string
		want   string
		ok     bool
	}{
		{"ja", "Asia/Tokyo", true},
		{"ja_JP.UTF-8", "Asia/Tokyo", true},
		{"ja-JP", "Asia/Tokyo", true},
		{"en-GB", "Europe/London", true},
		{"en-US", "America/New_York", true}, // subtag fallback
		{"pt-BR", "America/Sao_Paulo", true},
		{"tlh", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := zoneForLocale(tc.locale)
		if got != tc.want || ok != tc.ok {
			t.Errorf("zoneForLocale(%q) = (%q, %v), want (%q, %v)",
				tc.locale, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSourceStringRoundTrip(t *testing.T) {
	for _, src := range []Source{SourceCalendar, SourceSession, SourceLocale, SourceDefault} {
		if got := SourceFromString(src.String()); got != src {
			t.Errorf("SourceFromString(%q) = %v, want %v", src.String(), got, src)
		}
	}
}
