package domain

import "sync/atomic"

// Progress holds the last known completion percentage of a transfer.
// Writers update it in place; readers poll Percent. The zero value is unknown.
type Progress struct {
	pct atomic.Int32 // percent+1, 0 means unknown
}

// NewProgress returns a Progress with unknown completion.
func NewProgress() *Progress {
	return &Progress{}
}

// Update records done out of total bytes. A non-positive total is ignored.
func (p *Progress) Update(done, total int64) {
	if p == nil || total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	p.pct.Store(int32(pct) + 1)
}

// Set records a percentage directly.
func (p *Progress) Set(pct int) {
	if p == nil {
		return
	}
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	p.pct.Store(int32(pct) + 1)
}

// Percent returns the last known percentage and whether it is known.
func (p *Progress) Percent() (int, bool) {
	if p == nil {
		return 0, false
	}
	v := p.pct.Load()
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}
