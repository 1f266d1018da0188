// Package filterproc implements the length-prefixed line protocol spoken
// over a filter child process's stdin/stdout pipes, and the process
// lifecycle (spawn, handshake, kill) around it.
package filterproc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Conn is one filter process's wire-protocol connection: a writer to the
// child's stdin and a reader from the child's stdout.
//
// Wire format:
//   - a "value" frame is "<length>\n<bytes>\n"
//   - a boolean serializes as the literal value "true" or "false"
//   - nil serializes as a single blank line (the "none" sentinel)
//   - a list serializes as zero or more value frames followed by a blank
//     line terminator
//   - a "tag" is read as a bare line without its trailing newline
//   - an "item" is read as a length line, then exactly that many bytes, then
//     a trailing newline; a blank length line means none
//   - an "array" is a sequence of items terminated by a none
type Conn struct {
	w *bufio.Writer
	r *bufio.Reader
}

// NewConn wraps a child process's stdin writer and stdout reader.
func NewConn(w io.Writer, r io.Reader) *Conn {
	return &Conn{w: bufio.NewWriter(w), r: bufio.NewReader(r)}
}

// Send writes each value in order and flushes once at the end. Supported
// value types are string, []byte, bool, nil, int, float64, []string, and
// [][]byte (the latter two encoded as arrays).
func (c *Conn) Send(values ...interface{}) error {
	for _, v := range values {
		if err := c.sendValue(v); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func (c *Conn) sendValue(v interface{}) error {
	switch val := v.(type) {
	case []string:
		for _, item := range val {
			if err := c.writeItem([]byte(item)); err != nil {
				return err
			}
		}
		return c.writeNone()
	case [][]byte:
		for _, item := range val {
			if err := c.writeItem(item); err != nil {
				return err
			}
		}
		return c.writeNone()
	case bool:
		if val {
			return c.writeItem([]byte("true"))
		}
		return c.writeItem([]byte("false"))
	case nil:
		return c.writeNone()
	case []byte:
		return c.writeItem(val)
	case string:
		return c.writeItem([]byte(val))
	case int:
		return c.writeItem([]byte(strconv.Itoa(val)))
	case float64:
		return c.writeItem([]byte(strconv.FormatFloat(val, 'g', -1, 64)))
	default:
		return fmt.Errorf("filterproc: unsupported value type %T", v)
	}
}

func (c *Conn) writeItem(value []byte) error {
	if _, err := fmt.Fprintf(c.w, "%d\n", len(value)); err != nil {
		return err
	}
	if _, err := c.w.Write(value); err != nil {
		return err
	}
	_, err := c.w.Write([]byte{'\n'})
	return err
}

func (c *Conn) writeNone() error {
	_, err := c.w.Write([]byte{'\n'})
	return err
}

// GetTag reads and returns the next bare tag line.
func (c *Conn) GetTag() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// GetItem reads the next item: present is false when the item was the none
// sentinel (a blank length line). Reaching end-of-stream while reading the
// length line is reported as an I/O error, per the protocol's framing rules.
func (c *Conn) GetItem() (value []byte, present bool, err error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, false, fmt.Errorf("filterproc: read length line: %w", err)
	}
	trimmed := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return nil, false, nil
	}

	size, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, false, fmt.Errorf("filterproc: malformed length line %q: %w", trimmed, err)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, false, fmt.Errorf("filterproc: short read: %w", err)
	}
	if _, err := c.r.Discard(1); err != nil {
		return nil, false, fmt.Errorf("filterproc: missing trailing newline: %w", err)
	}
	return buf, true, nil
}

// GetArray reads a sequence of items terminated by a none.
func (c *Conn) GetArray() ([][]byte, error) {
	var items [][]byte
	for {
		item, present, err := c.GetItem()
		if err != nil {
			return nil, err
		}
		if !present {
			return items, nil
		}
		items = append(items, item)
	}
}
