package source

// RuntimeContext tells a source instance where it sits in the parallel job.
type RuntimeContext interface {
	SubtaskIndex() int
	Parallelism() int
}

type runtimeContext struct {
	index       int
	parallelism int
}

// NewRuntimeContext returns a fixed RuntimeContext.
func NewRuntimeContext(index, parallelism int) RuntimeContext {
	return runtimeContext{index: index, parallelism: parallelism}
}

func (c runtimeContext) SubtaskIndex() int { return c.index }
func (c runtimeContext) Parallelism() int  { return c.parallelism }

// Collector is the downstream sink records are emitted into.
type Collector[T any] interface {
	Collect(value T)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc[T any] func(T)

func (f CollectorFunc[T]) Collect(value T) { f(value) }
