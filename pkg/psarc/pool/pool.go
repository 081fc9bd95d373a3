// Package pool implements an ordered parallel worker pool: a fixed set of
// workers compress blocks concurrently, but commit their results (write to
// the archive, update shared metadata) in strict ticket order so the
// archive's offsets and block table stay deterministic.
//
// The dispatcher reserves a free slot by waiting on a condition variable
// over the pool's free count, then hands the job to the reserved worker
// through that worker's single-slot mailbox channel; Wait blocks on the
// same condition until every slot is free again. Ticket ordering is
// enforced with its own condition variable.
package pool

import "sync"

// Job is one unit of work submitted to the pool: Run performs the
// CPU-bound encode against the worker's private scratch buffer and returns
// a commit function to be invoked once the job's ticket is current.
type Job struct {
	// Run executes the (parallelisable) encode step using scratch as
	// working memory, then returns a Commit function that performs the
	// serialised write/metadata-update step.
	Run func(scratch []byte) (commit func() error)
}

type task struct {
	job    Job
	ticket int
}

type slot struct {
	id      int
	mailbox chan task
	scratch []byte
}

// Pool is a fixed-size ordered worker pool.
type Pool struct {
	workers int

	mu        sync.Mutex
	cond      *sync.Cond
	available int
	running   int
	lastIdx   int
	busy      []bool
	slots     []*slot

	ticketMu      sync.Mutex
	ticketCond    *sync.Cond
	currentTicket int
	nextTicket    int

	errOnce  sync.Once
	firstErr error
}

// New starts a pool of n workers, each with its own scratch buffer of
// scratchSize bytes (conventionally 2*block_size: one slot for raw input,
// one for encoded output). n must be >= 1.
func New(n int, scratchSize int) *Pool {
	p := &Pool{
		workers:       n,
		available:     n,
		busy:          make([]bool, n),
		slots:         make([]*slot, n),
		currentTicket: 1,
		nextTicket:    1,
	}
	p.cond = sync.NewCond(&p.mu)
	p.ticketCond = sync.NewCond(&p.ticketMu)

	for i := 0; i < n; i++ {
		s := &slot{id: i, mailbox: make(chan task), scratch: make([]byte, scratchSize)}
		p.slots[i] = s
		go p.workerLoop(s)
	}

	return p
}

func (p *Pool) workerLoop(s *slot) {
	for t := range s.mailbox {
		commit := t.job.Run(s.scratch)

		p.waitForTicket(t.ticket)
		if err := commit(); err != nil {
			p.recordError(err)
		}
		p.advanceTicket()

		p.mu.Lock()
		p.busy[s.id] = false
		p.available++
		p.running--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Submit blocks until a worker slot is free, assigns it the next ticket in
// producer order, and hands the job to the worker. The mailbox send
// returns once the worker has taken the task, so a reserved slot is always
// observed running before Submit returns. Submit never blocks on the
// job's completion; callers that need ordering guarantees rely on ticket
// order, not submission order of the call itself.
func (p *Pool) Submit(job Job) {
	idx := p.acquireSlot()

	p.ticketMu.Lock()
	ticket := p.nextTicket
	p.nextTicket++
	if p.nextTicket == 0 {
		p.nextTicket = 1
	}
	p.ticketMu.Unlock()

	p.slots[idx].mailbox <- task{job: job, ticket: ticket}
}

// acquireSlot blocks until a slot is free, then reserves it. The scan
// resumes round-robin after the last slot handed out.
func (p *Pool) acquireSlot() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.available == 0 {
		p.cond.Wait()
	}
	for {
		p.lastIdx = (p.lastIdx + 1) % p.workers
		if !p.busy[p.lastIdx] {
			p.busy[p.lastIdx] = true
			p.available--
			p.running++
			return p.lastIdx
		}
	}
}

func (p *Pool) waitForTicket(ticket int) {
	p.ticketMu.Lock()
	for p.currentTicket != ticket {
		p.ticketCond.Wait()
	}
	p.ticketMu.Unlock()
}

func (p *Pool) advanceTicket() {
	p.ticketMu.Lock()
	p.currentTicket++
	if p.currentTicket == 0 {
		p.currentTicket = 1
	}
	p.ticketCond.Broadcast()
	p.ticketMu.Unlock()
}

func (p *Pool) recordError(err error) {
	p.errOnce.Do(func() {
		p.firstErr = err
	})
}

// Wait blocks until every submitted job has completed (encoded and
// committed), then returns the first error recorded by any commit, if any.
func (p *Pool) Wait() error {
	p.mu.Lock()
	for p.running != 0 || p.available != p.workers {
		p.cond.Wait()
	}
	p.mu.Unlock()
	return p.firstErr
}

// Close stops all worker goroutines. Callers must call Wait before Close.
func (p *Pool) Close() {
	for _, s := range p.slots {
		close(s.mailbox)
	}
}
