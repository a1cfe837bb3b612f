// Package reskey derives the canonical resource key that joins a file to its
// presence, typing, and chat streams.
//
// The key format is stable and reproducible from file identity alone:
//
//	project:<ownerId>:<projectId>:<fileName>
//	standalone:<ownerId>:<fileName>
//
// Keys are pure string derivations with no store lookup, so every component
// (and every client) computes the same key for the same file, and the key
// cannot change while the file is open.
package reskey

import (
	"errors"
	"strings"

	"github.com/collabpad/collab-backend/internal/domain"
)

// Kind prefixes for the two key shapes.
const (
	KindProject    = "project"
	KindStandalone = "standalone"
)

// ErrMalformed is returned by Parse for strings that are not valid resource keys.
var ErrMalformed = errors.New("malformed resource key")

// Key is the decomposed identity of a resource. ProjectID is empty for
// standalone files.
type Key struct {
	OwnerID   string
	ProjectID string
	Name      string
}

// ForResource derives the key identity from a stored file record.
func ForResource(r *domain.Resource) Key {
	return Key{OwnerID: r.OwnerID, ProjectID: r.ProjectID, Name: r.Name}
}

// String renders the canonical key string.
func (k Key) String() string {
	if k.ProjectID != "" {
		return KindProject + ":" + k.OwnerID + ":" + k.ProjectID + ":" + k.Name
	}
	return KindStandalone + ":" + k.OwnerID + ":" + k.Name
}

// IsProject reports whether the key addresses a project-scoped file.
func (k Key) IsProject() bool { return k.ProjectID != "" }

// Parse recovers the identity encoded in a canonical key string.
//
// File names may themselves contain ':' (rare, but nothing forbids it), so
// only the leading segments are split and the remainder is taken verbatim as
// the name. Parse is also how ownership is attributed to legacy records that
// predate an explicit owner field: the owner segment of the key is
// authoritative when the stored field is absent.
func Parse(s string) (Key, error) {
	switch {
	case strings.HasPrefix(s, KindProject+":"):
		rest := s[len(KindProject)+1:]
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Key{}, ErrMalformed
		}
		return Key{OwnerID: parts[0], ProjectID: parts[1], Name: parts[2]}, nil
	case strings.HasPrefix(s, KindStandalone+":"):
		rest := s[len(KindStandalone)+1:]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Key{}, ErrMalformed
		}
		return Key{OwnerID: parts[0], Name: parts[1]}, nil
	default:
		return Key{}, ErrMalformed
	}
}

// OwnerOf returns the owner encoded in a key string, or "" when the key is
// malformed. Convenience for visibility checks on records that lack a stored
// owner field.
func OwnerOf(s string) string {
	k, err := Parse(s)
	if err != nil {
		return ""
	}
	return k.OwnerID
}
