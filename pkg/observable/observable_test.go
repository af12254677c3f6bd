package observable

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservable_ColdEverySubscribeRunsProducer(t *testing.T) {
	var runs int
	var mu sync.Mutex
	o := New(func(sink Sink[int]) func() {
		mu.Lock()
		runs++
		mu.Unlock()
		sink.Next(1)
		sink.Complete()
		return nil
	})

	for i := 0; i < 3; i++ {
		var got int
		sub := o.Subscribe(Observer[int]{Next: func(v int) { got = v }})
		sub.Unsubscribe()
		assert.Equal(t, 1, got)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, runs)
}

func TestObservable_ErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	o := New(func(sink Sink[int]) func() {
		sink.Next(1)
		sink.Error(boom)
		sink.Next(2) // must be dropped
		return nil
	})

	var values []int
	var gotErr error
	o.Subscribe(Observer[int]{
		Next:  func(v int) { values = append(values, v) },
		Error: func(err error) { gotErr = err },
	})

	assert.Equal(t, []int{1}, values)
	assert.Equal(t, boom, gotErr)
}

func TestObservable_UnsubscribeRunsCleanupOnceBeforeFurtherWork(t *testing.T) {
	var order []string
	o := New(func(sink Sink[int]) func() {
		return func() { order = append(order, "cleanup") }
	})

	sub := o.Subscribe(Observer[int]{})
	order = append(order, "subscribed")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent, no panic, no duplicate cleanup
	order = append(order, "after-unsubscribe")

	assert.Equal(t, []string{"subscribed", "cleanup", "after-unsubscribe"}, order)
}

func TestObservable_NextAfterUnsubscribeIsDropped(t *testing.T) {
	var sink Sink[int]
	o := New(func(s Sink[int]) func() {
		sink = s
		return nil
	})

	var values []int
	sub := o.Subscribe(Observer[int]{Next: func(v int) { values = append(values, v) }})
	sub.Unsubscribe()
	sink.Next(99)

	assert.Empty(t, values)
}

func TestFirstValueFrom(t *testing.T) {
	o := New(func(sink Sink[string]) func() {
		sink.Next("hello")
		sink.Next("world")
		return nil
	})

	v, err := FirstValueFrom(o)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestFirstValueFrom_ErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	o := New(func(sink Sink[string]) func() {
		sink.Error(boom)
		return nil
	})

	_, err := FirstValueFrom(o)
	assert.ErrorIs(t, err, boom)
}

func TestFirstValueFrom_CompleteWithoutValue(t *testing.T) {
	o := New(func(sink Sink[string]) func() {
		sink.Complete()
		return nil
	})

	_, err := FirstValueFrom(o)
	assert.ErrorIs(t, err, ErrNoValue)
}
