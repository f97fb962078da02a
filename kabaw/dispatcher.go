package kabaw

import "sync"

// Dispatcher routes client events to registered callbacks.
//
// Events are queued in the order they are posted and delivered on a single
// goroutine, so callbacks never run while the Client holds its lock and may
// call back into the Client.
type Dispatcher struct {
	mu          sync.Mutex
	onMessage   func(ChatMessage)
	onState     func(StateEvent)
	onSession   func(string)
	onReconnect func(ReconnectEvent)
	onError     func(error)

	queue    []func()
	wake     chan struct{}
	running  bool
	stopping bool
}

func (d *Dispatcher) SetOnMessage(fn func(ChatMessage)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnStateChanged(fn func(StateEvent)) {
	d.mu.Lock()
	d.onState = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnSession(fn func(string)) {
	d.mu.Lock()
	d.onSession = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnReconnect(fn func(ReconnectEvent)) {
	d.mu.Lock()
	d.onReconnect = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnError(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// Start launches the delivery goroutine. Calls after the first are no-ops.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopping {
		return
	}
	d.running = true
	d.wake = make(chan struct{}, 1)
	go d.loop(d.wake)
}

// Stop lets the delivery goroutine drain what is already queued and exit.
// Events posted afterwards are dropped. Stop does not wait, so it is safe
// to call from a callback.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopping = true
	wake := d.wake
	d.mu.Unlock()

	if wake != nil {
		signal(wake)
	}
}

func (d *Dispatcher) DispatchMessage(msg ChatMessage) {
	d.post(func(cb callbacks) {
		if cb.onMessage != nil {
			cb.onMessage(msg)
		}
	})
}

func (d *Dispatcher) DispatchState(ev StateEvent) {
	d.post(func(cb callbacks) {
		if cb.onState != nil {
			cb.onState(ev)
		}
	})
}

func (d *Dispatcher) DispatchSession(id string) {
	d.post(func(cb callbacks) {
		if cb.onSession != nil {
			cb.onSession(id)
		}
	})
}

func (d *Dispatcher) DispatchReconnect(ev ReconnectEvent) {
	d.post(func(cb callbacks) {
		if cb.onReconnect != nil {
			cb.onReconnect(ev)
		}
	})
}

func (d *Dispatcher) DispatchError(err error) {
	if err == nil {
		return
	}
	d.post(func(cb callbacks) {
		if cb.onError != nil {
			cb.onError(err)
		}
	})
}

// callbacks is a snapshot of the registered handlers.
type callbacks struct {
	onMessage   func(ChatMessage)
	onState     func(StateEvent)
	onSession   func(string)
	onReconnect func(ReconnectEvent)
	onError     func(error)
}

func (d *Dispatcher) snapshot() callbacks {
	return callbacks{
		onMessage:   d.onMessage,
		onState:     d.onState,
		onSession:   d.onSession,
		onReconnect: d.onReconnect,
		onError:     d.onError,
	}
}

func (d *Dispatcher) post(fn func(callbacks)) {
	d.mu.Lock()
	if !d.running || d.stopping {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, func() { fn(d.current()) })
	wake := d.wake
	d.mu.Unlock()

	signal(wake)
}

func (d *Dispatcher) current() callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

func (d *Dispatcher) loop(wake <-chan struct{}) {
	for range wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				stopping := d.stopping
				d.mu.Unlock()
				if stopping {
					return
				}
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
