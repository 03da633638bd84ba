// Package redisstub implements just enough of the Redis wire protocol to back
// the status store in tests without a live server.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	hashes   map[string]map[string]string
	closed   chan struct{}
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		hashes:   make(map[string]map[string]string),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

// Fields returns a copy of the stored hash for a key, for test assertions.
func (s *Server) Fields(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.hashes[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	var queued [][]string
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		if queued != nil && cmd != "MULTI" && cmd != "EXEC" && cmd != "DISCARD" {
			queued = append(queued, args)
			if err := writeSimpleString(writer, "QUEUED"); err != nil {
				return
			}
			continue
		}
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "HELLO":
			// Declining HELLO keeps the client on RESP2, matching servers
			// that predate the command.
			if err := writeError(writer, "ERR unknown command 'HELLO'"); err != nil {
				return
			}
		case "CLIENT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "AUTH":
			password := ""
			switch len(args) {
			case 2:
				password = args[1]
			case 3:
				password = args[2]
			default:
				if err := writeError(writer, "ERR wrong number of arguments for 'auth'"); err != nil {
					return
				}
				continue
			}
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
				return
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "MULTI":
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			queued = [][]string{}
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "EXEC":
			if queued == nil {
				if err := writeError(writer, "ERR EXEC without MULTI"); err != nil {
					return
				}
				continue
			}
			pending := queued
			queued = nil
			if err := writeArrayHeader(writer, len(pending)); err != nil {
				return
			}
			for _, command := range pending {
				if !s.dispatch(writer, strings.ToUpper(command[0]), command) {
					return
				}
			}
		case "DISCARD":
			queued = nil
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, cmd, args) {
				return
			}
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, cmd string, args []string) bool {
	switch cmd {
	case "HSETNX":
		if len(args) != 4 {
			_ = writeError(writer, "ERR wrong number of arguments for 'hsetnx'")
			return false
		}
		set := s.hsetnx(args[1], args[2], args[3])
		return writeInteger(writer, set) == nil
	case "HSET":
		if len(args) < 4 || len(args)%2 != 0 {
			_ = writeError(writer, "ERR wrong number of arguments for 'hset'")
			return false
		}
		added := s.hset(args[1], args[2:])
		return writeInteger(writer, added) == nil
	case "HGETALL":
		if len(args) != 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'hgetall'")
			return false
		}
		return writeArray(writer, s.hgetall(args[1])) == nil
	case "DEL":
		if len(args) < 2 {
			_ = writeError(writer, "ERR wrong number of arguments for 'del'")
			return false
		}
		return writeInteger(writer, s.del(args[1:])) == nil
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", cmd)) == nil
	}
}

func (s *Server) hsetnx(key, field, value string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	if _, exists := hash[field]; exists {
		return 0
	}
	hash[field] = value
	return 1
}

func (s *Server) hset(key string, pairs []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	var added int64
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, exists := hash[pairs[i]]; !exists {
			added++
		}
		hash[pairs[i]] = pairs[i+1]
	}
	return added
}

func (s *Server) hgetall(key string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	out := make([]interface{}, 0, len(hash)*2)
	for field, value := range hash {
		out = append(out, field, value)
	}
	return out
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.hashes[key]; ok {
			delete(s.hashes, key)
			removed++
		}
	}
	return removed
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayHeader(w *bufio.Writer, length int) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", length); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		text := fmt.Sprint(value)
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(text), text); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
