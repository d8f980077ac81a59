package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/progress"
)

type examplePoster struct {
	mu    sync.Mutex
	lines []string
}

func (p *examplePoster) Post(_ context.Context, evt progress.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, fmt.Sprintf("%s n=%v", evt.Status, *evt.N))
	return nil
}

// ExampleBar demonstrates reporting progress through an injected transport.
func ExampleBar() {
	poster := &examplePoster{}
	bar, err := New(Config{
		TaskID:       "build-42",
		Desc:         "compiling",
		Total:        3,
		PushInterval: time.Hour,
		Transport:    poster,
	})
	if err != nil {
		panic(err)
	}

	bar.Add(2)
	if err := bar.Close(); err != nil {
		panic(err)
	}

	for _, line := range poster.lines {
		fmt.Println(line)
	}
	// Output:
	// start n=0
	// update n=2
	// close n=2
}

// ExampleReporter implements a custom Reporter that mirrors updates into
// local state alongside the wire stream.
func ExampleReporter() {
	var local struct {
		n      float64
		closed bool
	}
	mirror := reporterFunc{
		advance: func(n float64) { local.n += n },
		close:   func() { local.closed = true },
	}

	bar, err := New(Config{
		TaskID:    "sync-7",
		Transport: &examplePoster{},
		Mirror:    mirror,
	})
	if err != nil {
		panic(err)
	}

	bar.Add(2)
	bar.Add(3)
	if err := bar.Close(); err != nil {
		panic(err)
	}

	fmt.Printf("local count: %v closed: %v\n", local.n, local.closed)
	// Output:
	// local count: 5 closed: true
}

type reporterFunc struct {
	advance func(float64)
	setDesc func(string)
	close   func()
}

func (r reporterFunc) Advance(n float64) {
	if r.advance != nil {
		r.advance(n)
	}
}

func (r reporterFunc) SetDescription(desc string) {
	if r.setDesc != nil {
		r.setDesc(desc)
	}
}

func (r reporterFunc) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}
