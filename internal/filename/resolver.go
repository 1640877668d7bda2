// Package filename derives safe, unique on-disk filenames for downloads.
package filename

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Characters that are illegal in filenames on at least one supported filesystem.
const illegalChars = `<>:"/\|?*`

var whitespaceRe = regexp.MustCompile(`\s+`)

// Resolve derives the filename for a download saved under dir. Candidates are
// tried in order: the caller-preferred name, the Content-Disposition header,
// the last URL path segment, and finally a timestamp-based synthetic name.
// The result is sanitized and unique within dir. No network I/O happens here;
// the header value is passed in already fetched.
func Resolve(dir, preferred, contentDisposition, rawURL string) string {
	name := preferred
	if name == "" {
		name = FromContentDisposition(contentDisposition)
	}
	if name == "" {
		name = FromURL(rawURL)
	}

	name = Sanitize(name)
	if name == "" {
		name = "download_" + time.Now().Format("20060102_150405")
	}

	return Unique(dir, name)
}

// FromContentDisposition extracts the filename parameter from a
// Content-Disposition header value. RFC 2047 encoded words (including
// quoted-printable UTF-8 byte sequences) and percent-encoding are decoded.
// Returns "" when the header carries no usable name.
func FromContentDisposition(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	name, ok := params["filename"]
	if !ok {
		name = params["filename*"]
	}
	if name == "" {
		return ""
	}

	return percentDecode(decodeEncodedWords(name))
}

// FromURL returns the last non-empty path segment of the URL, decoded.
func FromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			return percentDecode(seg)
		}
	}

	return ""
}

// Sanitize replaces characters illegal in filenames with '_' and collapses
// whitespace runs into single spaces.
func Sanitize(name string) string {
	replaced := strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalChars, r) {
			return '_'
		}
		return r
	}, name)

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(replaced, " "))
}

// Unique returns name if no file with that name exists in dir, otherwise the
// first free "name (n)" variant with the counter inserted before the
// extension. Existence is re-checked for every candidate.
func Unique(dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 1; exists(filepath.Join(dir, candidate)); n++ {
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}

	return candidate
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func decodeEncodedWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}

	decoded, err := new(mime.WordDecoder).DecodeHeader(s)
	if err != nil {
		return s
	}

	return decoded
}

func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}

	return decoded
}
