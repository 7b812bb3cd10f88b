package kvstore

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseRespArrayHeader(t *testing.T) {
	tt := []struct {
		in       string
		segments int
		valid    bool
	}{
		{in: "*3\r\n", segments: 3, valid: true},
		{in: "*34\r\n", segments: 34, valid: true},
		{in: "*0\r\n", valid: false},
		{in: "$3\r\n", valid: false},
		{in: "*x\r\n", valid: false},
		{in: "*3\n", valid: false},
	}

	for _, tc := range tt {
		t.Run(tc.in, func(t *testing.T) {
			segments, err := parseRespArrayHeader([]byte(tc.in))
			if !tc.valid {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrCommandInvalid)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.segments, segments)
		})
	}
}

func Test_resolveRespSimpleString(t *testing.T) {
	p := &respParser{}
	r := bufio.NewReader(bytes.NewBufferString("+flushall\r\n"))

	s, err := p.resolveRespSimpleString(r)
	require.NoError(t, err)
	assert.Equal(t, "flushall", s)
	assert.Equal(t, 11, p.currentCmdSize)
}

func Test_resolveRespBlob(t *testing.T) {
	t.Run("it reads a blob with its terminator", func(t *testing.T) {
		p := &respParser{}
		r := bufio.NewReader(bytes.NewBufferString("$6\r\nfoo123\r\n"))

		blob, err := p.resolveRespBlob(r)
		require.NoError(t, err)
		assert.Equal(t, []byte("foo123"), blob)
		assert.Equal(t, 12, p.currentCmdSize)
	})

	t.Run("it reports a blob cut short", func(t *testing.T) {
		p := &respParser{}
		r := bufio.NewReader(bytes.NewBufferString("$10\r\nfoo"))

		_, err := p.resolveRespBlob(r)
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("it rejects a blob without terminator", func(t *testing.T) {
		p := &respParser{}
		r := bufio.NewReader(bytes.NewBufferString("$3\r\nfoobar\r\n"))

		_, err := p.resolveRespBlob(r)
		assert.ErrorIs(t, err, ErrCommandInvalid)
	})
}

type replayed struct {
	sets    []*setCmd
	deletes []*deleteCmd
	flushes int
}

func (rp *replayed) collect(d deserializer) error {
	switch cmd := d.(type) {
	case *setCmd:
		rp.sets = append(rp.sets, cmd)
	case *deleteCmd:
		rp.deletes = append(rp.deletes, cmd)
	case flushAllCmd:
		rp.flushes++
	}
	return nil
}

func TestRespRoundTrip(t *testing.T) {
	rs := &respSerializer{}
	values := map[string][]byte{
		"onus/1":         []byte(`{"serial_number":"ABCD00000001"}`),
		"onus/2":         []byte("plain"),
		"mib/onus/1/256": {},
	}

	order := []string{"onus/1", "onus/2", "mib/onus/1/256"}
	positions := make(map[string]position)
	for _, k := range order {
		positions[k] = rs.serializeSetCommand(newKey(k), values[k])
	}
	rs.serializeDelCommand(newKey("onus/2"))
	rs.serializeFlushAllCommand()

	raw := rs.buf.Bytes()
	assert.Equal(t, len(raw), rs.pos)

	t.Run("it serializes value positions that point into the buffer", func(t *testing.T) {
		for k, pos := range positions {
			assert.Equal(t, values[k], raw[pos.offset:pos.offset+pos.size], k)
		}
	})

	t.Run("it parses back every command with the same positions", func(t *testing.T) {
		var rp replayed
		p := &respParser{}
		n, err := p.parse(bufio.NewReader(bytes.NewReader(raw)), rp.collect)
		require.NoError(t, err)
		assert.Equal(t, len(raw), n)
		assert.Equal(t, 5, p.totalCommands)

		require.Len(t, rp.sets, 3)
		for i, cmd := range rp.sets {
			k := order[i]
			assert.Equal(t, k, cmd.ent.Key.String())
			assert.Equal(t, values[k], cmd.ent.Value)
			assert.Equal(t, positions[k], cmd.pos)
		}

		require.Len(t, rp.deletes, 1)
		assert.Equal(t, "onus/2", rp.deletes[0].key.String())
		assert.Equal(t, 1, rp.flushes)
	})

	t.Run("it skips zero padding and shifts positions", func(t *testing.T) {
		padded := append(make([]byte, 7), raw...)

		var rp replayed
		p := &respParser{}
		n, err := p.parse(bufio.NewReader(bytes.NewReader(padded)), rp.collect)
		require.NoError(t, err)
		assert.Equal(t, len(padded), n)

		require.Len(t, rp.sets, 3)
		assert.Equal(t, positions["onus/1"].offset+7, rp.sets[0].pos.offset)
	})

	t.Run("it stops at a torn tail and reports the last good offset", func(t *testing.T) {
		torn := append(append([]byte(nil), raw...), []byte("*3\r\n+set\r\n$6\r\nonus/9\r\n$20\r\n{\"ser")...)

		var rp replayed
		p := &respParser{}
		n, err := p.parse(bufio.NewReader(bytes.NewReader(torn)), rp.collect)
		assert.Equal(t, io.ErrUnexpectedEOF, err)
		assert.Equal(t, len(raw), n)
		assert.Len(t, rp.sets, 3)
	})

	t.Run("it rejects an unknown command", func(t *testing.T) {
		p := &respParser{}
		_, err := p.parse(bufio.NewReader(bytes.NewBufferString("*1\r\n+drop\r\n")), func(d deserializer) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrCommandInvalid)
	})
}
