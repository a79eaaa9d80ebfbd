package hl7v2

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MLLP framing bytes.
const (
	MLLPStartBlock     = 0x0B
	MLLPEndBlock       = 0x1C
	MLLPCarriageReturn = 0x0D
)

const (
	mllpReadTimeout    = 30 * time.Second
	mllpWriteTimeout   = 10 * time.Second
	mllpMaxMessageSize = 1 << 20
)

// MessageHandler processes one raw HL7v2 message and returns the response
// bytes to send back, or nil for no response. The handler receives the
// unframed message; the returned response is framed by the server.
type MessageHandler func(raw []byte) []byte

// MLLPServer accepts TCP connections carrying MLLP-framed HL7v2 messages
// and dispatches each message to a handler.
type MLLPServer struct {
	addr    string
	handler MessageHandler
	log     zerolog.Logger

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewMLLPServer creates a server listening on addr once started.
func NewMLLPServer(addr string, handler MessageHandler, log zerolog.Logger) *MLLPServer {
	return &MLLPServer{
		addr:    addr,
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start begins listening and accepting connections. It returns once the
// listener is bound; connection handling runs in background goroutines.
func (s *MLLPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")
	return nil
}

// Stop closes the listener and all open connections, then waits for every
// handler goroutine to exit.
func (s *MLLPServer) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound listener address. Useful when starting on port 0.
func (s *MLLPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *MLLPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error().Err(err).Msg("mllp accept error")
			return
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *MLLPServer) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *MLLPServer) handleConnection(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(mllpReadTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			if len(buf) > mllpMaxMessageSize {
				s.log.Warn().Msg("mllp message exceeds max size, closing connection")
				return
			}

			for {
				msg, rest, found := UnframeMessage(buf)
				if !found {
					break
				}
				buf = rest
				s.dispatch(conn, msg)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle connections are closed; a partial message keeps
				// the read loop alive.
				if len(buf) == 0 {
					return
				}
				continue
			}
			return
		}
	}
}

func (s *MLLPServer) dispatch(conn net.Conn, raw []byte) {
	resp := s.handler(raw)
	if resp == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(mllpWriteTimeout))
	if _, err := conn.Write(FrameMessage(resp)); err != nil {
		s.log.Error().Err(err).Msg("mllp write error")
	}
}

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts one message from MLLP-framed bytes. It returns the
// message, any bytes remaining after the frame, and whether a complete frame
// was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}
