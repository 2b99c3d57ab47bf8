package upload

import (
	"io"
	"time"
)

// progressReader reports the running byte count at most every 100ms.
type progressReader struct {
	r      io.Reader
	n      int64
	last   time.Time
	onRead func(total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	if time.Since(p.last) > 100*time.Millisecond {
		p.last = time.Now()
		p.onRead(p.n)
	}
	return n, err
}
