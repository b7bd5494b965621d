// Package extract turns a message body part tree into normalized
// plain text suitable for AI parsing.
//
// Provider payloads are unreliable at every level: parts may be
// nested arbitrarily, leaf bodies may use either base64 alphabet with
// or without padding, text may not be UTF-8, and HTML may be the only
// body present.  Extraction therefore never fails; when nothing can
// be recovered it returns a fixed sentinel so the downstream parser
// sees a recognizable marker instead of silence.
package extract

import (
	"context"
	"encoding/base64"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/HangSHI/SmartEventAdder/internal/fallback"
	"github.com/HangSHI/SmartEventAdder/internal/message"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

// Sentinel is returned when no text could be extracted from any part
// of the tree.
const Sentinel = "Email content could not be extracted"

var (
	// Non-greedy markup tag match, spanning newlines.
	tagRe = regexp.MustCompile(`(?s)<.*?>`)

	// Quoted-printable soft line break: a literal '=' immediately
	// followed by a line break.
	softBreakRe = regexp.MustCompile(`=\r?\n`)

	spaceRe = regexp.MustCompile(`\s+`)
)

type accumulator struct {
	plain   []string
	html    []string
	lastErr error
}

// Text walks the part tree depth-first in pre-order and returns the
// sanitized body text.  Plain text wins over markup no matter where
// in the tree each appears; markup contributions are deferred until
// the walk completes and used only when no plain text was found.
func Text(root *message.Part) message.NormalizedText {
	var acc accumulator
	if root != nil {
		walk(root, &acc)
	}
	switch {
	case len(acc.plain) > 0:
		return message.NormalizedText{
			Text:   Sanitize(strings.Join(acc.plain, "\n"), message.SourcePlain),
			Source: message.SourcePlain,
		}
	case len(acc.html) > 0:
		return message.NormalizedText{
			Text:   Sanitize(strings.Join(acc.html, "\n"), message.SourceHTML),
			Source: message.SourceHTML,
		}
	}
	return message.NormalizedText{Text: Sentinel, Source: message.SourceFailed}
}

func walk(p *message.Part, acc *accumulator) {
	if p.Body != "" {
		text, err := Decode(p.Body)
		switch {
		case err != nil:
			acc.lastErr = err
		case strings.HasPrefix(p.MimeType, "text/plain"):
			acc.plain = append(acc.plain, text)
		case strings.HasPrefix(p.MimeType, "text/html"):
			acc.html = append(acc.html, text)
		}
	}
	for _, child := range p.Parts {
		walk(child, acc)
	}
}

// Decode decodes a transport encoded leaf body, trying several
// encoding assumptions in order and returning the first that yields
// non-empty text.
func Decode(data string) (string, error) {
	text, _, err := fallback.First(context.Background(),
		fallback.Source[string]{Name: "base64url-utf8", Get: func(context.Context) (string, error) {
			b, err := base64.URLEncoding.DecodeString(normalize(data))
			if err != nil {
				return "", err
			}
			if !utf8.Valid(b) {
				return "", errors.New("not valid UTF-8")
			}
			return nonEmpty(string(b))
		}},
		fallback.Source[string]{Name: "base64url-legacy", Get: func(context.Context) (string, error) {
			b, err := base64.URLEncoding.DecodeString(normalize(data))
			if err != nil {
				return "", err
			}
			decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
			if err != nil {
				return "", err
			}
			return nonEmpty(string(decoded))
		}},
		fallback.Source[string]{Name: "base64-std", Get: func(context.Context) (string, error) {
			b, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return "", err
			}
			return nonEmpty(string(b))
		}},
		fallback.Source[string]{Name: "base64url-lenient", Get: func(context.Context) (string, error) {
			b, err := base64.URLEncoding.DecodeString(normalize(data))
			if err != nil {
				return "", err
			}
			return nonEmpty(strings.ToValidUTF8(string(b), "�"))
		}},
	)
	if err != nil {
		return "", errors.Wrap(err, "decode body")
	}
	return text, nil
}

// normalize rewrites data to the URL-safe base64 alphabet and pads it
// to a multiple of four, so payloads using either alphabet, padded or
// not, decode identically.
func normalize(data string) string {
	s := strings.TrimSpace(data)
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.TrimRight(s, "=")
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	return s
}

func nonEmpty(s string) (string, error) {
	if s == "" {
		return "", errors.New("decoded to empty text")
	}
	return s, nil
}

// Sanitize cleans the concatenated body text: markup is stripped,
// quoted-printable soft line breaks are removed, non-breaking spaces
// become ordinary spaces, and whitespace runs collapse to single
// spaces.
func Sanitize(text string, src message.ContentSource) string {
	t := softBreakRe.ReplaceAllString(text, "")
	if src == message.SourceHTML {
		t = htmlToText(t)
	} else {
		t = tagRe.ReplaceAllString(t, "")
		t = html.UnescapeString(t)
	}
	t = strings.ReplaceAll(t, "\u00a0", " ")
	t = spaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// htmlToText extracts the text content of an HTML body.  Script and
// style bodies carry no human text and are dropped.  If the document
// cannot be parsed at all, fall back to a plain non-greedy tag strip.
func htmlToText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		t := tagRe.ReplaceAllString(s, "")
		return html.UnescapeString(t)
	}
	doc.Find("script,style").Remove()
	return doc.Text()
}
