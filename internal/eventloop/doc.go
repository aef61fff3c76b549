// Package eventloop runs callbacks on a single goroutine.
//
// A Loop owns all per-connection state in wsgate. Other goroutines never
// touch that state directly; they Post a closure, and the loop runs it in
// FIFO order. Timers and wakers deliver their callbacks through the same
// queue, so a callback never races with any other callback on the loop.
//
//	loop := eventloop.New()
//	go loop.Run(ctx)
//
//	timer := loop.NewTimer()
//	timer.Start(5*time.Second, func() { /* runs on the loop */ })
//
//	waker := loop.NewWaker(drain)
//	waker.Wake() // safe from any goroutine, coalesced until drain runs
package eventloop
