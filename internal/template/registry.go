package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/atelierops/pulse/model"
)

// snapshot is an immutable view of the published template set.
type snapshot struct {
	// latest holds the highest published version per logical template ID.
	latest map[string]model.WorkflowTemplate
	// versions holds every loaded version keyed by "id@version".
	versions map[string]model.WorkflowTemplate
	checksum string
}

// Registry is a read-optimized, thread-safe store of workflow templates.
// It uses atomic pointer swap for lock-free concurrent reads. The registry
// upholds the publication invariant: exactly one latest published version
// is resolvable per logical template ID.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given templates.
func NewRegistry(tpls []model.WorkflowTemplate) *Registry {
	r := &Registry{}
	r.Replace(tpls)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot.
func (r *Registry) Replace(tpls []model.WorkflowTemplate) {
	s := &snapshot{
		latest:   make(map[string]model.WorkflowTemplate),
		versions: make(map[string]model.WorkflowTemplate, len(tpls)),
	}

	var checksumParts []string
	for _, tpl := range tpls {
		s.versions[tpl.Key()] = tpl
		checksumParts = append(checksumParts, tpl.Checksum)

		if !tpl.Published {
			continue
		}
		if cur, ok := s.latest[tpl.ID]; !ok || tpl.Version > cur.Version {
			s.latest[tpl.ID] = tpl
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Published returns the latest published version of a template.
func (r *Registry) Published(templateID string) (model.WorkflowTemplate, bool) {
	tpl, ok := r.current().latest[templateID]
	return tpl, ok
}

// Version returns one specific template version, published or not.
func (r *Registry) Version(templateID string, version int) (model.WorkflowTemplate, bool) {
	tpl, ok := r.current().versions[fmt.Sprintf("%s@%d", templateID, version)]
	return tpl, ok
}

// Exists reports whether any version of the template is loaded, published
// or not. Used to distinguish "unknown template" from "not yet published".
func (r *Registry) Exists(templateID string) bool {
	for _, tpl := range r.current().versions {
		if tpl.ID == templateID {
			return true
		}
	}
	return false
}

// ListPublished returns the latest published version of every template,
// sorted by ID.
func (r *Registry) ListPublished() []model.WorkflowTemplate {
	s := r.current()
	result := make([]model.WorkflowTemplate, 0, len(s.latest))
	for _, tpl := range s.latest {
		result = append(result, tpl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Checksum returns the combined checksum of the loaded template set.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// Len returns the number of published template IDs.
func (r *Registry) Len() int {
	return len(r.current().latest)
}
