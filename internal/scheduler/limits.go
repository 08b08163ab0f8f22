package scheduler

import "sync"

// RepoLimiter caps how many tasks run against one repository at a time.
// Each repo gets its own counter, created on first use.
type RepoLimiter struct {
	limit int

	mu      sync.Mutex
	running map[string]int
}

// NewRepoLimiter allows limit concurrent tasks per repo. A limit of zero
// or less disables the check.
func NewRepoLimiter(limit int) *RepoLimiter {
	return &RepoLimiter{limit: limit, running: make(map[string]int)}
}

// TryAcquire takes a slot for repo if one is free.
func (r *RepoLimiter) TryAcquire(repo string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && r.running[repo] >= r.limit {
		return false
	}
	r.running[repo]++
	return true
}

// Release returns a slot taken with TryAcquire.
func (r *RepoLimiter) Release(repo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[repo] <= 1 {
		delete(r.running, repo)
		return
	}
	r.running[repo]--
}

// InUse returns the number of slots held for repo.
func (r *RepoLimiter) InUse(repo string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[repo]
}
