package kvstore

import (
	"bufio"
	"github.com/pkg/errors"
	"io"
	"strconv"
)

type commandCode int8

const (
	invalidCode commandCode = iota
	setCode
	delCode
	flushAllCode
)

// respParser replays the append only log. totalSize always points
// right after the last complete command, so a torn tail can be truncated.
type respParser struct {
	totalSize      int
	currentCmdSize int
	totalCommands  int
	currentLine    int
}

func (p *respParser) parse(r *bufio.Reader, cb func(d deserializer) error) (int, error) {
	for {
		p.currentCmdSize = 0

		firstByte, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return p.totalSize, nil
			}

			return p.totalSize, errors.Wrap(ErrSourceFileReadFailed, err.Error())
		}

		// zero padding left by a crash between preallocation and write
		if firstByte == 0 {
			p.totalSize++
			continue
		}

		if err := r.UnreadByte(); err != nil {
			return p.totalSize, errors.Wrap(ErrSourceFileReadFailed, err.Error())
		}

		segments, err := p.resolveRespArrayFromLine(r)
		if err != nil {
			return p.totalSize, err
		}

		cmdCode, err := p.resolveRespCommandCode(r)
		if err != nil {
			return p.totalSize, err
		}

		var d deserializer
		switch cmdCode {
		case setCode:
			if segments != 3 {
				return p.totalSize, errors.Wrapf(ErrCommandInvalid, "set at line #%d has %d segments", p.currentLine, segments)
			}
			d, err = p.parseSetCommand(r)
		case delCode:
			d, err = p.parseDelCommand(r)
		case flushAllCode:
			d = flushAllCmd{}
		}

		if err != nil {
			return p.totalSize, err
		}

		if err := cb(d); err != nil {
			return p.totalSize, err
		}

		p.totalCommands++
		p.totalSize += p.currentCmdSize
	}
}

// parseSetCommand parses the key and value of a `set` command
func (p *respParser) parseSetCommand(r *bufio.Reader) (*setCmd, error) {
	key, err := p.resolveRespBlob(r)
	if err != nil {
		return nil, err
	}

	value, pos, err := p.resolveRespValue(r)
	if err != nil {
		return nil, err
	}

	return &setCmd{ent: newEntry(string(key), value), pos: pos}, nil
}

func (p *respParser) parseDelCommand(r *bufio.Reader) (*deleteCmd, error) {
	key, err := p.resolveRespBlob(r)
	if err != nil {
		return nil, err
	}

	return &deleteCmd{key: newKey(string(key))}, nil
}

func (p *respParser) resolveRespValue(r *bufio.Reader) ([]byte, position, error) {
	// the blob header is consumed inside resolveRespBlob, so remember
	// where the command started and derive the offset afterwards
	before := p.currentCmdSize
	blob, err := p.resolveRespBlob(r)
	if err != nil {
		return nil, position{}, err
	}

	header := p.currentCmdSize - before - len(blob) - 2
	pos := position{
		offset: uint64(p.totalSize + before + header),
		size:   uint64(len(blob)),
	}

	return blob, pos, nil
}

// resolveRespBlob reads a `$<len>\r\n<bytes>\r\n` block
func (p *respParser) resolveRespBlob(r *bufio.Reader) ([]byte, error) {
	p.currentLine++
	infoLine, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, errors.Wrapf(ErrCommandInvalid, "could not resolve blob at line #%d: %v", p.currentLine, err)
	}

	p.currentCmdSize += len(infoLine)

	if len(infoLine) < 4 || infoLine[0] != '$' || infoLine[len(infoLine)-2] != '\r' {
		return nil, errors.Wrapf(ErrCommandInvalid, "line #%d - %q is not a valid blob header", p.currentLine, string(infoLine))
	}

	blobLen, err := strconv.Atoi(string(infoLine[1 : len(infoLine)-2]))
	if err != nil || blobLen < 0 {
		return nil, errors.Wrapf(ErrCommandInvalid, "line #%d - %q has invalid length", p.currentLine, string(infoLine))
	}

	blob := make([]byte, blobLen+2)
	n, err := io.ReadFull(r, blob)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, errors.Wrap(ErrCommandInvalid, err.Error())
	}

	p.currentCmdSize += n

	if blob[blobLen] != '\r' || blob[blobLen+1] != '\n' {
		return nil, errors.Wrapf(ErrCommandInvalid, "line #%d - blob is not terminated", p.currentLine)
	}

	return blob[:blobLen], nil
}

func (p *respParser) resolveRespArrayFromLine(r *bufio.Reader) (int, error) {
	p.currentLine++
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}

		return 0, errors.Wrapf(ErrSourceFileReadFailed, "could not parse array at line #%d: %s", p.currentLine, err.Error())
	}

	p.currentCmdSize += len(line)

	n, err := parseRespArrayHeader(line)
	if err != nil {
		return 0, errors.Wrapf(err, "line #%d", p.currentLine)
	}

	return n, nil
}

// parseRespArrayHeader parses `*<n>\r\n`
func parseRespArrayHeader(line []byte) (int, error) {
	if len(line) < 4 || line[0] != '*' || line[len(line)-2] != '\r' || line[len(line)-1] != '\n' {
		return 0, errors.Wrapf(ErrCommandInvalid, "%q should look like *<n>", string(line))
	}

	n, err := strconv.Atoi(string(line[1 : len(line)-2]))
	if err != nil || n < 1 {
		return 0, errors.Wrapf(ErrCommandInvalid, "%q has invalid segment count", string(line))
	}

	return n, nil
}

func (p *respParser) resolveRespCommandCode(r *bufio.Reader) (commandCode, error) {
	token, err := p.resolveRespSimpleString(r)
	if err != nil {
		return invalidCode, err
	}

	switch token {
	case setCommand:
		return setCode, nil
	case delCommand:
		return delCode, nil
	case flushAllCommand:
		return flushAllCode, nil
	}

	return invalidCode, errors.Wrapf(ErrCommandInvalid, "at line #%d command [%s] is unknown", p.currentLine, token)
}

func (p *respParser) resolveRespSimpleString(r *bufio.Reader) (string, error) {
	p.currentLine++
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}

		return "", errors.Wrap(ErrCommandInvalid, err.Error())
	}

	p.currentCmdSize += len(line)

	if len(line) < 4 || line[0] != '+' || line[len(line)-2] != '\r' {
		return "", errors.Wrapf(ErrCommandInvalid, "line #%d - %q is not a simple string", p.currentLine, string(line))
	}

	return string(line[1 : len(line)-2]), nil
}
