/*
Licensed to the Apache Software Foundation (ASF) under one
or more contributor license agreements.  See the NOTICE file
distributed with this work for additional information
regarding copyright ownership.  The ASF licenses this file
to you under the Apache License, Version 2.0 (the
"License"); you may not use this file except in compliance
with the License.  You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing,
software distributed under the License is distributed on an
"AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
KIND, either express or implied.  See the License for the
specific language governing permissions and limitations
under the License.
*/

package connection

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"

	"k8s.io/klog"
)

var ErrClosed = errors.New("connection closed")

// Conn is one OpenFlow connection, to a switch or to a slice controller.
// Reads happen on the caller's goroutine; writes are queued and flushed in
// order by a single writer so any goroutine may Send.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	queue     [][]byte
	queueMu   sync.Mutex
	queueCond sync.Cond
	closed    bool

	done chan struct{}
}

func NewConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		queue:  make([][]byte, 0),
		done:   make(chan struct{}),
	}
	c.queueCond.L = &c.queueMu

	go c.processQueue()
	return c
}

// Dial connects to the controller at address.
func Dial(ctx context.Context, address string) (*Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	return NewConn(conn), nil
}

// Receive blocks until the next message arrives.
func (c *Conn) Receive() ([]byte, error) {
	return ReadMessage(c.reader)
}

// Send queues msg for writing. The buffer must not be modified afterwards.
func (c *Conn) Send(msg []byte) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.queue = append(c.queue, msg)
	c.queueCond.Broadcast()
	return nil
}

func (c *Conn) SendMessage(msg ofp13.OFMessage) error {
	return c.Send(msg.Serialize())
}

func (c *Conn) processQueue() {
	defer close(c.done)

	for {
		c.queueMu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.queueCond.Wait()
		}

		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}

		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		if _, err := c.conn.Write(msg); err != nil {
			klog.Errorf("error writing to connection %s: %v", c.RemoteAddr(), err)
			c.Close()
			return
		}
	}
}

// Close drops queued messages and closes the socket, which also unblocks a
// pending Receive.
func (c *Conn) Close() error {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.queueCond.Broadcast()
	c.queueMu.Unlock()

	return c.conn.Close()
}

// Done is closed once the writer has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return "unknown"
}

// Listener accepts switch connections.
type Listener struct {
	listener net.Listener
}

func Listen(address string) (*Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	return &Listener{listener: listener}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve calls handle in a new goroutine for every accepted connection until
// ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, handle func(*Conn)) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				klog.Errorf("error accepting TCP connections: %v", err)
				continue
			}

			return err
		}

		go handle(NewConn(conn))
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
