package engine

import "sync"

// projectLocks serializes commands per project. Cross-project commands run in
// parallel; same-project commands must not interleave their read-modify-write
// cycles or duplicate invoices and stale remaining-budget figures result.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *projectLocks) get(projectID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[projectID] = l
	}
	return l
}

// withProject runs fn while holding the project's lock.
func (p *projectLocks) withProject(projectID string, fn func() error) error {
	l := p.get(projectID)
	l.Lock()
	defer l.Unlock()
	return fn()
}
