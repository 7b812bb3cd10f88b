package kvstore

import (
	"bytes"
	"strconv"
)

const (
	setCommand      = "set"
	delCommand      = "del"
	flushAllCommand = "flushall"
)

// respSerializer writes commands into buf and tracks the absolute
// file offset so that value positions are known before the write
type respSerializer struct {
	buf bytes.Buffer
	pos int
}

func (rs *respSerializer) serializeSetCommand(key Key, value []byte) position {
	rs.pos += writeRespArray(3, &rs.buf)
	rs.pos += writeRespSimpleString([]byte(setCommand), &rs.buf)
	rs.pos += writeRespKeyString(key.Bytes(), &rs.buf)
	prefix, total := writeRespBlob(value, &rs.buf)

	pos := position{
		size:   uint64(len(value)),
		offset: uint64(rs.pos + prefix),
	}

	rs.pos += total
	return pos
}

func (rs *respSerializer) serializeDelCommand(key Key) {
	rs.pos += writeRespArray(2, &rs.buf)
	rs.pos += writeRespSimpleString([]byte(delCommand), &rs.buf)
	rs.pos += writeRespKeyString(key.Bytes(), &rs.buf)
}

func (rs *respSerializer) serializeFlushAllCommand() {
	rs.pos += writeRespArray(1, &rs.buf)
	rs.pos += writeRespSimpleString([]byte(flushAllCommand), &rs.buf)
}

func writeRespArray(segments int, buf *bytes.Buffer) int {
	buf.WriteByte('*')
	s := strconv.FormatInt(int64(segments), 10)
	buf.WriteString(s)
	buf.WriteString("\r\n")

	return 3 + len(s)
}

func writeRespSimpleString(b []byte, buf *bytes.Buffer) int {
	buf.WriteByte('+')
	buf.Write(b)
	buf.WriteString("\r\n")
	return 3 + len(b)
}

func writeRespKeyString(b []byte, buf *bytes.Buffer) int {
	_, total := writeRespBlob(b, buf)
	return total
}

// writeRespBlob returns the length of the blob header and the total bytes written
func writeRespBlob(blob []byte, buf *bytes.Buffer) (int, int) {
	buf.WriteByte('$')
	l := strconv.FormatInt(int64(len(blob)), 10)
	buf.WriteString(l)
	buf.WriteString("\r\n")
	buf.Write(blob)
	buf.WriteString("\r\n")

	prefix := 1 + len(l) + 2
	total := prefix + len(blob) + 2
	return prefix, total
}
