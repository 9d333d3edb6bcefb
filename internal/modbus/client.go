// internal/modbus/client.go
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Registers is the holding-register surface the drive and engine adapters use.
type Registers interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error)
	WriteRegisters(addr uint16, regs []uint16) error
}

// Client is a single connection to one drive.
// It serializes requests: the axis and the engine share it from different goroutines.
type Client struct {
	mu     sync.Mutex
	client modbus.Client
	close  func() error
}

var _ Registers = (*Client)(nil)

type Config struct {
	Endpoint string // host:port, or rtu:///dev/ttyUSB0?baud=115200&parity=N
	UnitID   uint8
	Timeout  time.Duration
}

// NewClient connects to the drive described by cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus client: endpoint required")
	}

	if strings.HasPrefix(cfg.Endpoint, "rtu://") {
		return newRTUClient(cfg)
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: connect %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		client: modbus.NewClient(h),
		close:  h.Close,
	}, nil
}

func newRTUClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("modbus client: bad rtu endpoint %q: %w", cfg.Endpoint, err)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("modbus client: rtu endpoint %q has no device path", cfg.Endpoint)
	}

	h := modbus.NewRTUClientHandler(u.Path)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	h.BaudRate = 19200
	h.DataBits = 8
	h.Parity = "E"
	h.StopBits = 1

	q := u.Query()
	if v := q.Get("baud"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("modbus client: bad baud rate %q", v)
		}
		h.BaudRate = baud
	}
	if v := q.Get("parity"); v != "" {
		h.Parity = strings.ToUpper(v)
	}

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: open %s: %w", u.Path, err)
	}

	return &Client{
		client: modbus.NewClient(h),
		close:  h.Close,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	if len(raw) != int(qty)*2 {
		return nil, fmt.Errorf("modbus client: short read at %d: want %d bytes, got %d", addr, int(qty)*2, len(raw))
	}
	return unpackRegisters(raw), nil
}

func (c *Client) WriteRegisters(addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	return err
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[2*i:], r)
	}
	return out
}

func unpackRegisters(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return out
}
