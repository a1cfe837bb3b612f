package sync

import "github.com/collabpad/collab-backend/internal/domain"

// Visible reports whether a record with the given owner and public flag may
// be shown to viewerID. Public records are visible to everyone; private
// records only to their owner.
func Visible(ownerID string, isPublic bool, viewerID string) bool {
	return isPublic || ownerID == viewerID
}

// FilterFiles returns the subset of files visible to viewerID, preserving
// order. A file whose stored owner field is blank (legacy rows predating the
// ownership column) is attributed to fallbackOwner, the owner encoded in
// the location the listing was taken from (the project's owner for
// project-file listings, the key prefix otherwise).
func FilterFiles(files []domain.Resource, viewerID, fallbackOwner string) []domain.Resource {
	out := make([]domain.Resource, 0, len(files))
	for _, f := range files {
		owner := f.OwnerID
		if owner == "" {
			owner = fallbackOwner
		}
		if Visible(owner, f.IsPublic, viewerID) {
			out = append(out, f)
		}
	}
	return out
}

// FilterProjects returns the subset of projects visible to viewerID,
// preserving order.
func FilterProjects(projects []domain.Project, viewerID string) []domain.Project {
	out := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if Visible(p.OwnerID, p.IsPublic, viewerID) {
			out = append(out, p)
		}
	}
	return out
}
