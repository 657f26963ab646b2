// Package keys builds cache keys and request fingerprints.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

const maxUserTextLen = 64

// WorkspaceKey returns the redis key for a user's workspace list. The
// readable part is truncated; the hash suffix keeps keys unique.
func WorkspaceKey(userID string) string {
	norm := strings.TrimSpace(userID)
	safe := sanitize(norm)
	if len(safe) > maxUserTextLen {
		safe = safe[:maxUserTextLen]
	}
	return fmt.Sprintf("ws:%s:u=%016x", safe, xxhash.Sum64String(norm))
}

// Fingerprint identifies a selection parameter set. Text fields are trimmed
// and numbers are printed in shortest form so equal requests hash equal.
func Fingerprint(p model.SelectionParams) string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(strings.TrimSpace(p.Username))
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(p.Radius, 'g', -1, 64))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(p.MaxBBNum))
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(p.BBPricingField))
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(p.MaxTotalCost, 'g', -1, 64))
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(p.DemandField))
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(p.Method))
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// SourceKey hashes a catalog source location.
func SourceKey(src string) uint64 {
	return xxhash.Sum64String(strings.TrimSpace(src))
}

// LayerID names an overlay layer by its request sequence and fingerprint.
func LayerID(seq uint64, fingerprint string) string {
	return fmt.Sprintf("l-%d-%s", seq, fingerprint)
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.' || r == '@':
			out = r
		default:
			// any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
