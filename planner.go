package db_migrator

import (
	"container/list"
)

type migrationsPlan struct {
	revisionsToRun *list.List
}

func newMigrationsPlan() migrationsPlan {
	return migrationsPlan{
		revisionsToRun: list.New(),
	}
}

func (p migrationsPlan) IsEmpty() bool {
	return p.revisionsToRun.Len() == 0
}

func (p migrationsPlan) Len() int {
	return p.revisionsToRun.Len()
}

func (p migrationsPlan) PopFirst() *Revision {
	first := p.revisionsToRun.Front()
	p.revisionsToRun.Remove(first)
	return first.Value.(*Revision)
}

// Revisions возвращает ревизии плана, не извлекая их.
func (p migrationsPlan) Revisions() []*Revision {
	out := make([]*Revision, 0, p.revisionsToRun.Len())
	for e := p.revisionsToRun.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Revision))
	}
	return out
}

type upgradePlanner struct {
	graph   *Graph
	applied []string
	target  []string
}

func (p *upgradePlanner) MakePlan() (migrationsPlan, error) {
	plan := newMigrationsPlan()

	path, err := p.graph.UpgradePath(p.applied, p.target)
	if err != nil {
		return plan, err
	}
	for _, revision := range path {
		plan.revisionsToRun.PushBack(revision)
	}

	return plan, nil
}

type downgradePlanner struct {
	graph   *Graph
	applied []string
	target  []string
}

// MakePlan строит план отката и сразу проверяет, что каждую ревизию плана можно откатить:
// необратимая ревизия где-то в середине пути обнаруживается до выполнения первой операции.
func (p *downgradePlanner) MakePlan() (migrationsPlan, error) {
	plan := newMigrationsPlan()

	path, err := p.graph.DowngradePath(p.applied, p.target)
	if err != nil {
		return plan, err
	}
	for _, revision := range path {
		if _, err := revision.DowngradeOperations(); err != nil {
			return newMigrationsPlan(), err
		}
		plan.revisionsToRun.PushBack(revision)
	}

	return plan, nil
}
