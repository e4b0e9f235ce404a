package db_migrator

import (
	"container/heap"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// less задает порядок между ревизиями, не связанными отношением предок/потомок:
// сначала по времени создания, затем по идентификатору.
func (g *Graph) less(a, b string) bool {
	ra, rb := g.revisions[a], g.revisions[b]
	if ra != nil && rb != nil && !ra.CreatedAt.Equal(rb.CreatedAt) {
		return ra.CreatedAt.Before(rb.CreatedAt)
	}
	return a < b
}

func (g *Graph) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.less(ids[i], ids[j])
	})
}

type readyQueue struct {
	graph *Graph
	ids   []string
}

func (q *readyQueue) Len() int           { return len(q.ids) }
func (q *readyQueue) Less(i, j int) bool { return q.graph.less(q.ids[i], q.ids[j]) }
func (q *readyQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x any)         { q.ids = append(q.ids, x.(string)) }

func (q *readyQueue) Pop() any {
	last := q.ids[len(q.ids)-1]
	q.ids = q.ids[:len(q.ids)-1]
	return last
}

// Linearize возвращает ревизии множества set в топологическом порядке: каждая ревизия
// следует после всех своих родителей из set. Порядок детерминирован.
// Если set пусто, линеаризуется весь граф.
func (g *Graph) Linearize(set map[string]bool) ([]*Revision, error) {
	if set == nil {
		set = make(map[string]bool, len(g.ids))
		for _, id := range g.ids {
			set[id] = true
		}
	}

	indegree := make(map[string]int, len(set))
	queue := &readyQueue{graph: g}
	for id := range set {
		r, ok := g.revisions[id]
		if !ok {
			return nil, fmt.Errorf("revision %q: %w", id, ErrUnknownRevision)
		}
		for _, parent := range r.Parents {
			if set[parent] {
				indegree[id]++
			}
		}
		if indegree[id] == 0 {
			queue.ids = append(queue.ids, id)
		}
	}
	heap.Init(queue)

	order := make([]*Revision, 0, len(set))
	for queue.Len() > 0 {
		id := heap.Pop(queue).(string)
		order = append(order, g.revisions[id])

		for _, child := range g.children[id] {
			if !set[child] {
				continue
			}
			indegree[child]--
			if indegree[child] == 0 {
				heap.Push(queue, child)
			}
		}
	}

	if len(order) != len(set) {
		if cycle := g.findCycle(); cycle != nil {
			return nil, &CyclicGraphError{Cycle: cycle}
		}
		return nil, &CyclicGraphError{}
	}

	return order, nil
}

// UpgradePath возвращает ревизии, которые нужно применить, чтобы из состояния с головами current
// прийти в состояние с головами target. Цель, уже входящая в примененное состояние, дает пустой путь.
func (g *Graph) UpgradePath(current, target []string) ([]*Revision, error) {
	applied := g.Ancestors(current...)
	wanted := g.Ancestors(target...)

	order, err := g.Linearize(wanted)
	if err != nil {
		return nil, err
	}

	path := make([]*Revision, 0, len(order))
	for _, r := range order {
		if !applied[r.ID] {
			path = append(path, r)
		}
	}
	return path, nil
}

// DowngradePath возвращает ревизии в порядке отмены: от потомков к предкам, пока примененным
// не останется ровно множество предков target. Пустой target означает откат до base.
func (g *Graph) DowngradePath(current, target []string) ([]*Revision, error) {
	applied := g.Ancestors(current...)
	for _, id := range target {
		if !applied[id] {
			return nil, fmt.Errorf("revision %q: %w", id, ErrTargetNotApplied)
		}
	}
	keep := g.Ancestors(target...)

	order, err := g.Linearize(applied)
	if err != nil {
		return nil, err
	}

	path := make([]*Revision, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		if !keep[order[i].ID] {
			path = append(path, order[i])
		}
	}
	return path, nil
}

// StepsBack возвращает головы состояния, которое получится после отмены n последних ревизий
// примененного состояния current.
func (g *Graph) StepsBack(current []string, n int) ([]string, error) {
	applied := g.Ancestors(current...)
	order, err := g.Linearize(applied)
	if err != nil {
		return nil, err
	}
	if n > len(order) {
		return nil, fmt.Errorf("cannot step back %d revisions: only %d applied", n, len(order))
	}

	remaining := make(map[string]bool, len(order)-n)
	for _, r := range order[:len(order)-n] {
		remaining[r.ID] = true
	}
	return g.HeadsOf(remaining), nil
}

// ResolveTarget переводит цель команды в набор голов целевого состояния.
// head требует единственной головы, heads берет все головы, base - пустое состояние.
func (g *Graph) ResolveTarget(ref string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "", TargetHead:
		heads := g.Heads()
		if len(heads) == 0 {
			return nil, ErrNoRevisions
		}
		if len(heads) > 1 {
			return nil, &MultipleHeadsCondition{Heads: heads}
		}
		return heads, nil
	case TargetHeads:
		heads := g.Heads()
		if len(heads) == 0 {
			return nil, ErrNoRevisions
		}
		return heads, nil
	case TargetBase:
		return nil, nil
	}

	id, err := g.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// parseRelative разбирает цель вида -N.
func parseRelative(ref string) (int, bool, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "-") {
		return 0, false, nil
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil || n <= 0 {
		return 0, true, fmt.Errorf("relative target %q must be a positive step count like -1", ref)
	}
	return n, true, nil
}
