package referral

import (
	"sort"
	"time"

	"github.com/router-for-me/MemberLedger/internal/models"
)

// Index is an immutable in-memory copy of the referral graph.
type Index struct {
	builtAt  time.Time
	byID     map[uint64]*models.Member
	byHandle map[string]*models.Member
	children map[string][]*models.Member
	order    []*models.Member
}

// BuildIndex indexes members by id, handle and referrer handle.
func BuildIndex(members []models.Member, builtAt time.Time) *Index {
	idx := &Index{
		builtAt:  builtAt,
		byID:     make(map[uint64]*models.Member, len(members)),
		byHandle: make(map[string]*models.Member, len(members)),
		children: make(map[string][]*models.Member),
		order:    make([]*models.Member, 0, len(members)),
	}
	for i := range members {
		m := &members[i]
		idx.byID[m.ID] = m
		idx.byHandle[m.Handle] = m
		idx.order = append(idx.order, m)
		if ref := m.ReferrerHandle(); ref != "" {
			idx.children[ref] = append(idx.children[ref], m)
		}
	}
	sort.Slice(idx.order, func(i, j int) bool { return idx.order[i].ID < idx.order[j].ID })
	for _, list := range idx.children {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return idx
}

// BuiltAt returns when the index was built.
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }

// Len returns the number of indexed members.
func (idx *Index) Len() int { return len(idx.order) }

// Members returns every member in id order.
func (idx *Index) Members() []*models.Member { return idx.order }

// ByID looks a member up by id.
func (idx *Index) ByID(id uint64) (*models.Member, bool) {
	m, ok := idx.byID[id]
	return m, ok
}

// ByHandle looks a member up by handle.
func (idx *Index) ByHandle(handle string) (*models.Member, bool) {
	m, ok := idx.byHandle[handle]
	return m, ok
}

// Children returns the members whose referrer is handle, in id order.
func (idx *Index) Children(handle string) []*models.Member {
	return idx.children[handle]
}

// Ancestors mirrors Store.Ancestors over the snapshot.
func (idx *Index) Ancestors(memberID uint64, maxDepth int) []*models.Member {
	maxDepth = NormalizeDepth(maxDepth)
	start, ok := idx.byID[memberID]
	if !ok {
		return nil
	}
	visited := map[string]struct{}{start.Handle: {}}
	chain := make([]*models.Member, 0, min(maxDepth, DefaultMaxDepth))
	current := start
	for len(chain) < maxDepth {
		ref := current.ReferrerHandle()
		if ref == "" {
			break
		}
		if _, seen := visited[ref]; seen {
			break
		}
		parent, found := idx.byHandle[ref]
		if !found {
			break
		}
		visited[ref] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain
}

// IndexNode is a snapshot descendant with its level.
type IndexNode struct {
	Member *models.Member
	Level  int
}

// Descendants mirrors Store.Descendants over the snapshot.
func (idx *Index) Descendants(memberID uint64, maxDepth int) []IndexNode {
	maxDepth = NormalizeDepth(maxDepth)
	start, ok := idx.byID[memberID]
	if !ok {
		return nil
	}
	visited := map[uint64]struct{}{start.ID: {}}
	frontier := []*models.Member{start}
	nodes := make([]IndexNode, 0)
	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		next := make([]*models.Member, 0)
		for _, parent := range frontier {
			for _, child := range idx.children[parent.Handle] {
				if _, seen := visited[child.ID]; seen {
					continue
				}
				visited[child.ID] = struct{}{}
				nodes = append(nodes, IndexNode{Member: child, Level: level})
				next = append(next, child)
			}
		}
		frontier = next
	}
	return nodes
}
