package db_migrator

import (
	"fmt"
	"sort"
	"strings"
)

// Graph - хранилище ревизий: идентификатор -> ревизия, плюс ребра родитель/потомок.
// После построения граф не изменяется.
type Graph struct {
	revisions map[string]*Revision
	children  map[string][]string
	ids       []string
}

// NewGraph строит граф из определений ревизий. Идентичные повторные определения схлопываются,
// различающиеся определения с одним идентификатором дают DuplicateRevisionError.
// Циклы и ссылки на отсутствующих родителей здесь не проверяются, см. Validate.
func NewGraph(revisions ...*Revision) (*Graph, error) {
	g := &Graph{
		revisions: make(map[string]*Revision, len(revisions)),
		children:  make(map[string][]string, len(revisions)),
	}

	checksums := make(map[string]string, len(revisions))
	for _, revision := range revisions {
		if revision == nil {
			continue
		}
		if err := revision.validate(); err != nil {
			return nil, err
		}

		checksum := revision.Checksum()
		if existing, ok := g.revisions[revision.ID]; ok {
			if checksums[revision.ID] != checksum {
				return nil, &DuplicateRevisionError{
					ID:      revision.ID,
					Sources: nonEmpty(existing.Source, revision.Source),
				}
			}
			continue
		}

		g.revisions[revision.ID] = revision
		checksums[revision.ID] = checksum
		g.ids = append(g.ids, revision.ID)
	}

	sort.Strings(g.ids)
	for _, id := range g.ids {
		for _, parent := range g.revisions[id].Parents {
			g.children[parent] = append(g.children[parent], id)
		}
	}

	return g, nil
}

func (g *Graph) Len() int {
	return len(g.ids)
}

// IDs возвращает идентификаторы всех ревизий в лексическом порядке.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.ids...)
}

func (g *Graph) Revision(id string) (*Revision, bool) {
	r, ok := g.revisions[id]
	return r, ok
}

func (g *Graph) Parents(id string) []string {
	r, ok := g.revisions[id]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Parents...)
}

func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// Bases возвращает ревизии без родителей.
func (g *Graph) Bases() []string {
	var bases []string
	for _, id := range g.ids {
		if g.revisions[id].IsBase() {
			bases = append(bases, id)
		}
	}
	g.sortIDs(bases)
	return bases
}

// Heads возвращает ревизии без потомков в порядке линеаризации.
func (g *Graph) Heads() []string {
	var heads []string
	for _, id := range g.ids {
		if len(g.children[id]) == 0 {
			heads = append(heads, id)
		}
	}
	g.sortIDs(heads)
	return heads
}

// Ancestors возвращает множество ревизий, достижимых по ребрам к родителям, включая сами ids.
// Отсутствующие в графе идентификаторы пропускаются.
func (g *Graph) Ancestors(ids ...string) map[string]bool {
	set := make(map[string]bool)
	stack := append([]string(nil), ids...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r, ok := g.revisions[id]
		if !ok || set[id] {
			continue
		}
		set[id] = true
		stack = append(stack, r.Parents...)
	}
	return set
}

// Descendants возвращает множество ревизий, для которых id является предком (без самой id).
func (g *Graph) Descendants(id string) map[string]bool {
	set := make(map[string]bool)
	stack := append([]string(nil), g.children[id]...)
	for len(stack) > 0 {
		child := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if set[child] {
			continue
		}
		set[child] = true
		stack = append(stack, g.children[child]...)
	}
	return set
}

// Resolve находит ревизию по полному идентификатору или по однозначному префиксу.
func (g *Graph) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if _, ok := g.revisions[ref]; ok {
		return ref, nil
	}

	var matches []string
	if ref != "" {
		for _, id := range g.ids {
			if strings.HasPrefix(id, ref) {
				matches = append(matches, id)
			}
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("revision %q: %w, run `history` to list known revisions", ref, ErrUnknownRevision)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %s: %w", ref, strings.Join(matches, ", "), ErrAmbiguousRevision)
	}
}

// HeadsOf возвращает ревизии множества set, у которых нет потомков внутри set.
func (g *Graph) HeadsOf(set map[string]bool) []string {
	var heads []string
	for id := range set {
		head := true
		for _, child := range g.children[id] {
			if set[child] {
				head = false
				break
			}
		}
		if head {
			heads = append(heads, id)
		}
	}
	g.sortIDs(heads)
	return heads
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
