package hyperdeck

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the HyperDeck Ethernet protocol port.
const DefaultPort = 9993

// DefaultTimeout bounds connecting and each response read.
const DefaultTimeout = 2 * time.Second

var (
	ErrMalformedCodeLine   = errors.New("malformed response code line")
	ErrMalformedCode       = errors.New("malformed response code")
	ErrMalformedParameters = errors.New("malformed parameters")
)

// Response is one protocol response. Text has the trailing ':' removed when
// a payload followed. Payload keeps each line with its "\n".
type Response struct {
	Code    int
	Text    string
	Payload *string
}

// Async reports whether the response is an asynchronous notification
// (5xx) rather than the answer to a command.
func (r Response) Async() bool {
	return r.Code >= 500 && r.Code < 600
}

// Parameters parses a "key: value" payload. A response without a payload
// yields an empty map.
func (r Response) Parameters() (map[string]string, error) {
	params := make(map[string]string)
	if r.Payload == nil {
		return params, nil
	}
	for _, line := range strings.Split(strings.TrimSuffix(*r.Payload, "\n"), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, ErrMalformedParameters
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}

// Client is a connection to one device. It is not safe for concurrent use;
// the protocol is strictly request/response.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr ("host:port"). timeout bounds the connect and every
// later response read; zero means DefaultTimeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hyperdeck connect error: %w", err)
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// WriteCommand sends one command line.
func (c *Client) WriteCommand(command string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("hyperdeck write command error: %w", err)
	}
	if _, err := io.WriteString(c.conn, command+"\n"); err != nil {
		return fmt.Errorf("hyperdeck write command error: %w", err)
	}
	return nil
}

// ReadResponse reads the next response, asynchronous ones included.
func (c *Client) ReadResponse() (Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return Response{}, fmt.Errorf("hyperdeck read response error: %w", err)
	}

	var (
		resp    Response
		started bool
	)
	for {
		line, err := c.readLine()
		if err != nil {
			return Response{}, fmt.Errorf("hyperdeck read response error: %w", err)
		}

		if !started {
			if line == "" {
				continue
			}
			codeStr, text, ok := strings.Cut(line, " ")
			if !ok {
				return Response{}, ErrMalformedCodeLine
			}
			code, err := strconv.Atoi(codeStr)
			if err != nil {
				return Response{}, ErrMalformedCode
			}
			if !strings.HasSuffix(text, ":") {
				return Response{Code: code, Text: text}, nil
			}
			resp = Response{Code: code, Text: strings.TrimSuffix(text, ":")}
			started = true
			continue
		}

		if line == "" {
			return resp, nil
		}
		if resp.Payload == nil {
			resp.Payload = new(string)
		}
		*resp.Payload += line + "\n"
	}
}

// ReadCommandResponse reads responses until one that is not asynchronous.
func (c *Client) ReadCommandResponse() (Response, error) {
	for {
		resp, err := c.ReadResponse()
		if err != nil {
			return Response{}, err
		}
		if !resp.Async() {
			return resp, nil
		}
	}
}

// Do writes command and waits for its response.
func (c *Client) Do(command string) (Response, error) {
	if err := c.WriteCommand(command); err != nil {
		return Response{}, err
	}
	return c.ReadCommandResponse()
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Command connects to ip on port, runs one command and closes the
// connection. This is what the agent does for every relayed command.
func Command(ctx context.Context, ip string, port int, timeout time.Duration, command string) (Response, error) {
	client, err := Dial(ctx, net.JoinHostPort(ip, strconv.Itoa(port)), timeout)
	if err != nil {
		return Response{}, err
	}
	defer client.Close()

	return client.Do(command)
}
