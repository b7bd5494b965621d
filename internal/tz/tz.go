// Package tz derives the user's effective IANA timezone.
//
// No single source is reliable: the calendar service setting may be
// unset or unreachable, the session timezone may be absent, and the
// locale only hints at a zone.  The sources are tried in a fixed
// order and the first usable one wins; the chain bottoms out at UTC,
// so resolution never fails.
package tz

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/fallback"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Source tags where a resolved timezone came from.
type Source int

const (
	SourceCalendar Source = iota
	SourceSession
	SourceLocale
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceCalendar:
		return "calendarSetting"
	case SourceSession:
		return "sessionSetting"
	case SourceLocale:
		return "localeMap"
	}
	return "default"
}

// SourceFromString is the inverse of Source.String, used when loading
// persisted workflows.
func SourceFromString(s string) Source {
	switch s {
	case "calendarSetting":
		return SourceCalendar
	case "sessionSetting":
		return SourceSession
	case "localeMap":
		return SourceLocale
	}
	return SourceDefault
}

// Resolved is an IANA timezone name plus the source that supplied it.
type Resolved struct {
	Name   string
	Source Source
}

// Settings exposes the three external timezone hints.  Each method
// either returns a usable value or an error; errors only advance the
// chain and are never surfaced to the caller of Resolve.
type Settings interface {
	CalendarTimezone(ctx context.Context) (string, error)
	SessionTimezone(ctx context.Context) (string, error)
	ActiveLocale(ctx context.Context) (string, error)
}

// FuncSettings adapts three optional functions to Settings.  A nil
// function reports its source as unavailable.
type FuncSettings struct {
	Calendar func(ctx context.Context) (string, error)
	Session  func(ctx context.Context) (string, error)
	Locale   func(ctx context.Context) (string, error)
}

func (f FuncSettings) CalendarTimezone(ctx context.Context) (string, error) {
	if f.Calendar == nil {
		return "", errors.New("no calendar settings source")
	}
	return f.Calendar(ctx)
}

func (f FuncSettings) SessionTimezone(ctx context.Context) (string, error) {
	if f.Session == nil {
		return "", errors.New("no session settings source")
	}
	return f.Session(ctx)
}

func (f FuncSettings) ActiveLocale(ctx context.Context) (string, error) {
	if f.Locale == nil {
		return "", errors.New("no locale source")
	}
	return f.Locale(ctx)
}

// localeZones maps locale strings to a representative IANA zone.
// Exact matches are tried first, then the primary language subtag.
var localeZones = map[string]string{
	"ja":    "Asia/Tokyo",
	"ko":    "Asia/Seoul",
	"zh":    "Asia/Shanghai",
	"zh-TW": "Asia/Taipei",
	"hi":    "Asia/Kolkata",
	"en":    "America/New_York",
	"en-GB": "Europe/London",
	"en-AU": "Australia/Sydney",
	"de":    "Europe/Berlin",
	"fr":    "Europe/Paris",
	"es":    "Europe/Madrid",
	"it":    "Europe/Rome",
	"pt":    "Europe/Lisbon",
	"pt-BR": "America/Sao_Paulo",
	"ru":    "Europe/Moscow",
}

// Resolve runs the fallback chain and returns the effective timezone.
// It never fails; the final source is a fixed UTC default.
func Resolve(ctx context.Context, settings Settings, log *zap.Logger) Resolved {
	r, name, err := fallback.First(ctx,
		fallback.Source[Resolved]{Name: "calendarSetting", Get: func(ctx context.Context) (Resolved, error) {
			v, err := settings.CalendarTimezone(ctx)
			if err != nil {
				return Resolved{}, err
			}
			return validated(v, SourceCalendar)
		}},
		fallback.Source[Resolved]{Name: "sessionSetting", Get: func(ctx context.Context) (Resolved, error) {
			v, err := settings.SessionTimezone(ctx)
			if err != nil {
				return Resolved{}, err
			}
			return validated(v, SourceSession)
		}},
		fallback.Source[Resolved]{Name: "localeMap", Get: func(ctx context.Context) (Resolved, error) {
			locale, err := settings.ActiveLocale(ctx)
			if err != nil {
				return Resolved{}, err
			}
			zone, ok := zoneForLocale(locale)
			if !ok {
				return Resolved{}, errors.Errorf("no zone mapping for locale %q", locale)
			}
			return validated(zone, SourceLocale)
		}},
		fallback.Source[Resolved]{Name: "default", Get: func(context.Context) (Resolved, error) {
			return Resolved{Name: "UTC", Source: SourceDefault}, nil
		}},
	)
	if err != nil {
		// Unreachable while the default source is last, except
		// for context cancellation.
		return Resolved{Name: "UTC", Source: SourceDefault}
	}
	if log != nil {
		log.Debug("resolved timezone",
			zap.String("zone", r.Name),
			zap.String("source", name))
	}
	return r
}

func validated(name string, src Source) (Resolved, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resolved{}, errors.New("empty timezone value")
	}
	if _, err := time.LoadLocation(name); err != nil {
		return Resolved{}, errors.Wrapf(err, "unusable timezone %q", name)
	}
	return Resolved{Name: name, Source: src}, nil
}

func zoneForLocale(locale string) (string, bool) {
	l := strings.TrimSpace(locale)
	// "ja_JP.UTF-8" style values carry an encoding suffix.
	if i := strings.IndexByte(l, '.'); i >= 0 {
		l = l[:i]
	}
	l = strings.ReplaceAll(l, "_", "-")
	if zone, ok := localeZones[l]; ok {
		return zone, true
	}
	// Fall back to the primary language subtag.
	if i := strings.IndexByte(l, '-'); i >= 0 {
		if zone, ok := localeZones[l[:i]]; ok {
			return zone, true
		}
	}
	return "", false
}

// SessionTimezoneFromEnv reads the session timezone from the TZ
// environment variable.
func SessionTimezoneFromEnv(context.Context) (string, error) {
	if v := os.Getenv("TZ"); v != "" {
		return v, nil
	}
	return "", errors.New("TZ not set")
}

// ActiveLocaleFromEnv reads the active locale from LC_ALL or LANG.
func ActiveLocaleFromEnv(context.Context) (string, error) {
	for _, key := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(key); v != "" && v != "C" && v != "POSIX" {
			return v, nil
		}
	}
	return "", errors.New("no locale in environment")
}
