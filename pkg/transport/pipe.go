package transport

import (
	"sync"

	"neurosdk/pkg/api"
)

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

// PipeEnd is one side of an in-memory transport pair.
type PipeEnd struct {
	in     chan []byte
	out    chan []byte
	shared *pipeShared
}

// Pipe returns two connected in-memory transports. Frames written on one
// end are read from the other in order. Closing either end closes both;
// frames already written can still be read.
func Pipe() (*PipeEnd, *PipeEnd) {
	shared := &pipeShared{done: make(chan struct{})}
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &PipeEnd{in: ba, out: ab, shared: shared},
		&PipeEnd{in: ab, out: ba, shared: shared}
}

// ReadMessage returns frames written before the pipe closed, then ErrClosed.
func (p *PipeEnd) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.shared.done:
		select {
		case data := <-p.in:
			return data, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *PipeEnd) WriteMessage(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- buf:
		return nil
	case <-p.shared.done:
		return ErrClosed
	}
}

func (p *PipeEnd) Close() error {
	p.shared.close()
	return nil
}

// Done is closed once the pipe is closed.
func (p *PipeEnd) Done() <-chan struct{} {
	return p.shared.done
}

var _ api.Transport = (*PipeEnd)(nil)
