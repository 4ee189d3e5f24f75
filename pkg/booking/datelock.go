package booking

import (
	"context"
	"sync"
)

// DateLocker serializes admissions per date. Lock blocks until the date is free
// or ctx ends; the returned func releases it.
type DateLocker interface {
	Lock(ctx context.Context, date Date) (unlock func(), err error)
}

// LocalDateLocker is an in-process DateLocker. Distinct dates never contend.
type LocalDateLocker struct {
	mutex sync.Mutex
	slots map[Date]*dateSlot
}

type dateSlot struct {
	token chan struct{}
	users int
}

// NewLocalDateLocker returns an empty LocalDateLocker.
func NewLocalDateLocker() *LocalDateLocker {
	return &LocalDateLocker{slots: make(map[Date]*dateSlot)}
}

// Lock acquires the slot for date.
func (locker *LocalDateLocker) Lock(ctx context.Context, date Date) (func(), error) {
	slot := locker.acquireSlot(date)
	select {
	case slot.token <- struct{}{}:
	case <-ctx.Done():
		locker.releaseSlot(date, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.token
			locker.releaseSlot(date, slot)
		})
	}, nil
}

func (locker *LocalDateLocker) acquireSlot(date Date) *dateSlot {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	slot, ok := locker.slots[date]
	if !ok {
		slot = &dateSlot{token: make(chan struct{}, 1)}
		locker.slots[date] = slot
	}
	slot.users++
	return slot
}

func (locker *LocalDateLocker) releaseSlot(date Date, slot *dateSlot) {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	slot.users--
	if slot.users == 0 {
		delete(locker.slots, date)
	}
}

// activeDates reports how many dates currently hold a slot.
func (locker *LocalDateLocker) activeDates() int {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	return len(locker.slots)
}
