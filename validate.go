package db_migrator

import (
	"fmt"
	"strings"
)

// Validation - результат проверки графа.
type Validation struct {
	Heads  []string
	Bases  []string
	Merges []string

	// MultipleHeads заполнено, если у графа больше одной головы. Это не ошибка валидации:
	// решение принимает вызывающий код в зависимости от цели.
	MultipleHeads *MultipleHeadsCondition
}

// Validate проверяет граф целиком: ссылки на отсутствующих родителей и циклы.
// Граф без ошибок является DAG, и для него определены головы и линеаризация.
func (g *Graph) Validate() (*Validation, error) {
	for _, id := range g.ids {
		for _, parent := range g.revisions[id].Parents {
			if _, ok := g.revisions[parent]; !ok {
				return nil, &DanglingParentError{Revision: id, Parent: parent}
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicGraphError{Cycle: cycle}
	}

	if err := g.checkDerivedDowngrades(); err != nil {
		return nil, err
	}

	v := &Validation{
		Heads: g.Heads(),
		Bases: g.Bases(),
	}
	for _, id := range g.ids {
		if g.revisions[id].IsMerge() {
			v.Merges = append(v.Merges, id)
		}
	}
	g.sortIDs(v.Merges)

	if len(v.Heads) > 1 {
		v.MultipleHeads = &MultipleHeadsCondition{Heads: v.Heads}
	}

	return v, nil
}

// checkDerivedDowngrades проигрывает ревизии в порядке линеаризации и проверяет, что выведенный
// откат каждой обратимой ревизии возвращает схему к состоянию до нее. Если ревизию проиграть
// нельзя (например, она меняет таблицу, созданную SQL-операцией), проверка дальше не идет:
// состояние схемы после нее неизвестно.
func (g *Graph) checkDerivedDowngrades() error {
	order, err := g.Linearize(nil)
	if err != nil {
		return err
	}

	schema := NewSchema()
	for _, r := range order {
		after, err := ApplyOperations(schema, r.Upgrade...)
		if err != nil {
			return nil
		}
		if !r.Irreversible && r.Downgrade == nil {
			if err := checkRoundTrip(r, schema, after); err != nil {
				return err
			}
		}
		schema = after
	}
	return nil
}

func checkRoundTrip(r *Revision, before, after *Schema) error {
	down, err := r.DowngradeOperations()
	if err != nil {
		return err
	}

	restored, err := ApplyOperations(after, down...)
	if err != nil {
		return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("derived downgrade cannot be replayed: %v", err)}
	}

	lost := compareSchemas(before, restored)
	if len(lost) == 0 {
		return nil
	}
	parts := make([]string, 0, len(lost))
	for _, d := range lost {
		parts = append(parts, d.String())
	}
	return &InvalidRevisionError{
		Revision: r.ID,
		Reason: fmt.Sprintf(
			"derived downgrade does not restore the schema (%s): list the dropped indexes and constraints "+
				"on the operation, declare a downgrade or mark the revision irreversible",
			strings.Join(parts, "; "),
		),
	}
}

const (
	white = iota
	gray
	black
)

// findCycle ищет цикл обходом в глубину по ребрам к родителям.
// Возвращает путь в порядке родитель -> потомок, первый и последний элементы совпадают.
func (g *Graph) findCycle() []string {
	color := make(map[string]int, len(g.ids))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)

		for _, parent := range g.revisions[id].Parents {
			if _, ok := g.revisions[parent]; !ok {
				continue
			}
			switch color[parent] {
			case gray:
				start := 0
				for i := range path {
					if path[i] == parent {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), parent)
				reverse(cycle)
				return cycle
			case white:
				if cycle := visit(parent); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.ids {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
