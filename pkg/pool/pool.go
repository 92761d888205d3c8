// Package pool provides a synchronized free list that amortizes the
// construction of frequently recycled instances across many workers.
package pool

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultMaxSizeFactor bounds the pool at ten times its initial size
const DefaultMaxSizeFactor = 10

// ErrInstantiation is matched by errors.Is for every InstantiationError
var ErrInstantiation = errors.New("pool instantiation failed")

// InstantiationError is returned by Pop when the factory fails while the
// pool grows. The free list is left as it was before the call.
type InstantiationError struct {
	Requested int
	Built     int
	Cause     error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("pool instantiation failed after %d of %d instances: %v", e.Built, e.Requested, e.Cause)
}

func (e *InstantiationError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrInstantiation) hold
func (e *InstantiationError) Is(target error) bool {
	return target == ErrInstantiation
}

// Factory creates a new pool instance
type Factory[T any] func() (T, error)

// Config sizes a pool
type Config struct {
	// InitialSize is the growth step of an empty pool and the floor of a shrink
	InitialSize int `yaml:"initialSize"`
	// MaxSizeFactor times InitialSize is the size above which Push shrinks the pool
	MaxSizeFactor int `yaml:"maxSizeFactor"`
	// Prefill grows the pool once at construction
	Prefill bool `yaml:"prefill"`
}

// Stats is a point-in-time view of pool activity
type Stats struct {
	Size     int
	Grows    int
	Shrinks  int
	Created  int
	Released int
	Failures int
}

// Pool is a stack-based free list safe for concurrent use
type Pool[T any] struct {
	factory     Factory[T]
	release     func(T)
	initialSize int
	factor      int
	items       []T
	stats       Stats
	mutex       sync.Mutex
}

// New creates a pool. A zero MaxSizeFactor means DefaultMaxSizeFactor.
func New[T any](cfg Config, factory Factory[T]) (*Pool[T], error) {
	if cfg.InitialSize <= 0 {
		return nil, fmt.Errorf("pool initial size must be positive, got %d", cfg.InitialSize)
	}
	if factory == nil {
		return nil, errors.New("pool factory is nil")
	}
	if cfg.MaxSizeFactor < 0 {
		return nil, fmt.Errorf("pool max size factor must not be negative, got %d", cfg.MaxSizeFactor)
	}
	factor := cfg.MaxSizeFactor
	if factor == 0 {
		factor = DefaultMaxSizeFactor
	}
	if err := checkFactor(factor, cfg.InitialSize); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		factory:     factory,
		initialSize: cfg.InitialSize,
		factor:      factor,
		items:       make([]T, 0, cfg.InitialSize),
	}

	if cfg.Prefill {
		p.mutex.Lock()
		_, err := p.grow()
		p.mutex.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// checkFactor rejects factors whose max size does not fit in an int
func checkFactor(factor, initialSize int) error {
	if factor > math.MaxInt/initialSize {
		return fmt.Errorf("pool max size factor %d overflows with initial size %d", factor, initialSize)
	}
	return nil
}

// OnRelease sets a hook called for every instance dropped by the pool. The
// hook runs outside the pool lock and may call back into the pool.
func (p *Pool[T]) OnRelease(fn func(T)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.release = fn
}

// SetMaxSizeFactor changes the shrink threshold; it applies from the next Push
func (p *Pool[T]) SetMaxSizeFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("pool max size factor must be positive, got %d", factor)
	}
	if err := checkFactor(factor, p.initialSize); err != nil {
		return err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.factor = factor
	return nil
}

// InitialSize returns the growth step
func (p *Pool[T]) InitialSize() int {
	return p.initialSize
}

// Len returns the number of free instances
func (p *Pool[T]) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.items)
}

// Stats returns a snapshot of the pool counters
func (p *Pool[T]) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s := p.stats
	s.Size = len(p.items)
	return s
}

// Pop removes and returns a free instance, growing the pool by its initial
// size first when it is empty
func (p *Pool[T]) Pop() (T, error) {
	var zero T

	p.mutex.Lock()
	if len(p.items) == 0 {
		if dropped, err := p.grow(); err != nil {
			release := p.release
			p.mutex.Unlock()
			notify(release, dropped)
			return zero, err
		}
	}

	last := len(p.items) - 1
	item := p.items[last]
	p.items[last] = zero
	p.items = p.items[:last]
	p.mutex.Unlock()
	return item, nil
}

// Push returns an instance to the pool and shrinks it when it grew past
// the max size
func (p *Pool[T]) Push(item T) {
	p.mutex.Lock()
	p.items = append(p.items, item)
	var dropped []T
	if len(p.items) > p.factor*p.initialSize {
		dropped = p.shrink()
	}
	release := p.release
	p.mutex.Unlock()

	notify(release, dropped)
}

// grow builds a whole batch before publishing it, so a failing factory
// leaves the free list untouched. On failure it returns the partial batch
// for release.
func (p *Pool[T]) grow() ([]T, error) {
	batch := make([]T, 0, p.initialSize)
	for i := 0; i < p.initialSize; i++ {
		item, err := p.create()
		if err != nil {
			p.stats.Failures++
			p.stats.Released += len(batch)
			return batch, &InstantiationError{Requested: p.initialSize, Built: len(batch), Cause: err}
		}
		batch = append(batch, item)
	}
	p.items = append(p.items, batch...)
	p.stats.Grows++
	p.stats.Created += len(batch)
	return nil, nil
}

func (p *Pool[T]) create() (item T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	return p.factory()
}

// shrink pops up to initialSize instances without going below initialSize
// and returns them, top of the stack first
func (p *Pool[T]) shrink() []T {
	excess := len(p.items) - p.initialSize
	n := min(p.initialSize, excess)
	if n <= 0 {
		return nil
	}
	dropped := make([]T, 0, n)
	for i := 0; i < n; i++ {
		last := len(p.items) - 1
		dropped = append(dropped, p.items[last])
		var zero T
		p.items[last] = zero
		p.items = p.items[:last]
	}
	p.stats.Shrinks++
	p.stats.Released += n
	return dropped
}

func notify[T any](release func(T), dropped []T) {
	if release == nil {
		return
	}
	for _, item := range dropped {
		release(item)
	}
}
