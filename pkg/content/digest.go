package content

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// ContentMD5 returns the hex encoded MD5 digest of data, as sent in the
// Content-MD5 header.
func ContentMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Digester computes ContentMD5 over a stream while it is being read.
type Digester struct {
	r io.Reader
	h hash.Hash
	n int64
}

func NewDigester(r io.Reader) *Digester {
	return &Digester{r: r, h: md5.New()}
}

func (d *Digester) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (d *Digester) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (d *Digester) Size() int64 {
	return d.n
}
