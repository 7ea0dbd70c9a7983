package server

import (
	"bytes"
	"net"
	"testing"

	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/server/connections"
	"github.com/Trinoooo/eggie_echo/server/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSock struct {
	bytes.Buffer
	fd int
}

var _ connections.IConnection = &fakeSock{}

func (fs *fakeSock) Close() error { return nil }
func (fs *fakeSock) Shutdown() error { return nil }
func (fs *fakeSock) RawFd() int { return fs.fd }
func (fs *fakeSock) SetNonblock(bool) error { return nil }
func (fs *fakeSock) LocalAddr() net.Addr { return nil }
func (fs *fakeSock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: fs.fd}
}

// TestConnTable
//   - 重复插入返回 DuplicateDescriptor
//   - 查找、删除不存在的描述符返回 NotFound
func TestConnTable(t *testing.T) {
	table := newConnTable()
	c1 := newConn(&fakeSock{fd: 7})
	c2 := newConn(&fakeSock{fd: 8})

	require.NoError(t, table.insert(7, c1))
	require.NoError(t, table.insert(8, c2))
	err := table.insert(7, c2)
	assert.Equal(t, int64(errs.DuplicateDescriptorErrCode), errs.GetCode(err))
	assert.Equal(t, 2, table.len())

	got, err := table.lookup(7)
	require.NoError(t, err)
	assert.Same(t, c1, got)
	_, err = table.lookup(9)
	assert.Equal(t, int64(errs.NotFoundErrCode), errs.GetCode(err))

	seen := 0
	table.each(func(c *conn) { seen++ })
	assert.Equal(t, 2, seen)

	removed, err := table.remove(7)
	require.NoError(t, err)
	assert.Same(t, c1, removed)
	_, err = table.remove(7)
	assert.Equal(t, int64(errs.NotFoundErrCode), errs.GetCode(err))
	assert.Equal(t, 1, table.len())
}

func TestConnState(t *testing.T) {
	c := newConn(&fakeSock{fd: 3})
	assert.Equal(t, 3, c.fd)
	assert.Equal(t, "NEW", c.state.String())

	c.setInterest(poller.Readable)
	assert.Equal(t, stateReading, c.state)
	c.setInterest(poller.Readable | poller.Writable)
	assert.Equal(t, stateWriting, c.state)
	c.setInterest(poller.None)
	assert.Equal(t, stateEstablished, c.state)

	c.state = stateClosing
	c.setInterest(poller.Readable)
	assert.Equal(t, stateClosing, c.state)
	assert.True(t, c.closing())

	c.outbound.WriteString("pending")
	info := c.info()
	assert.Equal(t, "CLOSING", info.State)
	assert.Equal(t, "r", info.Interest)
	assert.Equal(t, 7, info.Outbound)
	assert.Equal(t, "10.0.0.1:3", info.Remote)
}
