// Package sequence issues gap-free invoice numbers per branch per business day.
package sequence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kasirinaja/settlement/internal/domain"
)

const dayLayout = "2006-01-02"

// Allocator returns the next invoice number for a branch and business day.
// Implementations serialize callers on the same key; numbers start at 1 each day.
type Allocator interface {
	Next(ctx context.Context, branchID string, day time.Time) (int64, error)
}

// DayKey formats the calendar day of t as used for sequence keys and business dates.
func DayKey(t time.Time) string {
	return t.Format(dayLayout)
}

// ParseDay parses a business date produced by DayKey.
func ParseDay(value string) (time.Time, error) {
	return time.Parse(dayLayout, value)
}

// Format renders an invoice number like INV/MAIN-STORE/20261016/0042.
func Format(branchID string, day time.Time, n int64) string {
	return fmt.Sprintf("INV/%s/%s/%04d", strings.ToUpper(branchID), day.Format("20060102"), n)
}

type key struct {
	branch string
	day    string
}

// Memory is a process-local allocator guarded by a mutex.
type Memory struct {
	mu   sync.Mutex
	last map[key]int64
}

func NewMemory() *Memory {
	return &Memory{last: make(map[key]int64)}
}

func (m *Memory) Next(ctx context.Context, branchID string, day time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSequenceUnavailable, err)
	}
	if strings.TrimSpace(branchID) == "" {
		return 0, fmt.Errorf("%w: branch required", domain.ErrSequenceUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{branch: branchID, day: DayKey(day)}
	m.last[k]++
	return m.last[k], nil
}

// Last reports the most recently issued number for the key, 0 if none.
func (m *Memory) Last(branchID string, day time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[key{branch: branchID, day: DayKey(day)}]
}
