package server

import "github.com/Trinoooo/eggie_echo/errs"

// connTable 描述符到连接的索引，一个描述符最多对应一个连接
type connTable struct {
	conns map[int]*conn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[int]*conn)}
}

func (t *connTable) insert(fd int, c *conn) error {
	if _, exist := t.conns[fd]; exist {
		return errs.NewDuplicateDescriptorErr()
	}
	t.conns[fd] = c
	return nil
}

func (t *connTable) remove(fd int) (*conn, error) {
	c, exist := t.conns[fd]
	if !exist {
		return nil, errs.NewNotFoundErr()
	}
	delete(t.conns, fd)
	return c, nil
}

func (t *connTable) lookup(fd int) (*conn, error) {
	c, exist := t.conns[fd]
	if !exist {
		return nil, errs.NewNotFoundErr()
	}
	return c, nil
}

func (t *connTable) len() int {
	return len(t.conns)
}

// each 遍历期间不能增删连接
func (t *connTable) each(fn func(c *conn)) {
	for _, c := range t.conns {
		fn(c)
	}
}
