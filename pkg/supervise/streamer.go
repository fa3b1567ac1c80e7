package supervise

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

const (
	recentLines = 1000
	subBuffer   = 256
	maxLineSize = 1024 * 1024
)

// streamer merges a child's stdout and stderr pipes into one broadcast
// sequence of OutputLine events. Sequence numbers are assigned under a
// single lock in the order bytes were read, so they are gapless and
// strictly increasing per slot; interleaving between the two streams is
// whatever order the pipes became readable.
type streamer struct {
	slot      string
	onReadErr func(stream string, err error)

	mu     sync.Mutex
	seq    uint64
	subs   []chan core.OutputLine
	recent []core.OutputLine
	closed bool

	done chan struct{}
}

func newStreamer(slot string, onReadErr func(string, error)) *streamer {
	return &streamer{
		slot:      slot,
		onReadErr: onReadErr,
		done:      make(chan struct{}),
	}
}

// run consumes both pipes until EOF, then closes every subscriber
// channel. A trailing partial line is emitted as a final line. It
// returns once both streams are closed, which is the safe point to
// reap the child.
func (st *streamer) run(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		st.consume(core.StreamStdout, stdout)
	}()
	go func() {
		defer wg.Done()
		st.consume(core.StreamStderr, stderr)
	}()
	wg.Wait()

	st.mu.Lock()
	st.closed = true
	for _, ch := range st.subs {
		close(ch)
	}
	st.subs = nil
	st.mu.Unlock()
	close(st.done)
}

func (st *streamer) consume(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		st.emit(stream, scanner.Text())
	}
	// Pipe read errors are reported but do not end the job; only
	// process exit or cancellation does.
	if err := scanner.Err(); err != nil {
		if st.onReadErr != nil {
			st.onReadErr(stream, err)
		}
		// The scanner stops on errors like ErrTooLong with bytes still
		// in the pipe. Keep draining so the child never blocks on a
		// full pipe and can run to exit.
		io.Copy(io.Discard, r)
	}
}

func (st *streamer) emit(stream, text string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	line := core.OutputLine{
		Slot:     st.slot,
		Stream:   stream,
		Text:     text,
		Seq:      st.seq,
		TsUnixMs: time.Now().UnixMilli(),
	}
	st.seq++

	st.recent = append(st.recent, line)
	if len(st.recent) > recentLines {
		st.recent = st.recent[len(st.recent)-recentLines:]
	}

	// Broadcast: every subscriber receives every line as long as it
	// keeps draining. A subscriber whose buffer is full is dropped and
	// its channel closed; stream progress and the job lifecycle must
	// never hinge on an observer reading.
	for i := 0; i < len(st.subs); {
		select {
		case st.subs[i] <- line:
			i++
		default:
			close(st.subs[i])
			st.subs[i] = st.subs[len(st.subs)-1]
			st.subs = st.subs[:len(st.subs)-1]
		}
	}
}

// subscribe returns a channel receiving all subsequent lines. The
// channel closes when both streams close, or earlier if the subscriber
// stops draining and its buffer fills. Subscribing to a finished
// streamer yields an already-closed channel.
func (st *streamer) subscribe() <-chan core.OutputLine {
	ch := make(chan core.OutputLine, subBuffer)
	st.mu.Lock()
	if st.closed {
		close(ch)
	} else {
		st.subs = append(st.subs, ch)
	}
	st.mu.Unlock()
	return ch
}

// history returns a copy of up to n of the most recent lines.
func (st *streamer) history(n int) []core.OutputLine {
	st.mu.Lock()
	defer st.mu.Unlock()
	lines := st.recent
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]core.OutputLine, len(lines))
	copy(out, lines)
	return out
}
