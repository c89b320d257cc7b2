package epmd

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ergo-services/erldist/lib"
)

func TestComposeAliveReq(t *testing.T) {
	requireT := require.New(t)

	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	requireT.NoError(composeAliveReq(b, NodeInfo{
		Name:        "test",
		Port:        0x1234,
		HighVersion: 5,
		LowVersion:  5,
	}))
	shouldBe := []byte{
		0, 17, // length
		AliveReq,
		0x12, 0x34, // port
		NodeTypeNormal,
		ProtocolTCP,
		0, 5, 0, 5, // versions
		0, 4, 't', 'e', 's', 't',
		0, 0, // extra
	}
	requireT.Equal(shouldBe, b.B)

	info, err := readAliveReq(b.B[3:])
	requireT.NoError(err)
	requireT.Equal("test", info.Name)
	requireT.Equal(uint16(0x1234), info.Port)
	requireT.False(info.Hidden)
}

func TestReadAliveReqMalformed(t *testing.T) {
	_, err := readAliveReq([]byte{0, 1, 77, 0, 0, 5, 0, 5, 0, 10, 'a'})
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestReadAliveResp(t *testing.T) {
	requireT := require.New(t)

	creation, err := readAliveResp(bytes.NewReader(composeAliveResp(0, 3)))
	requireT.NoError(err)
	requireT.Equal(uint32(3), creation)

	creation, err = readAliveResp(bytes.NewReader([]byte{AliveRespX, 0, 0x10, 0, 0, 1}))
	requireT.NoError(err)
	requireT.Equal(uint32(0x10000001), creation)

	_, err = readAliveResp(bytes.NewReader(composeAliveResp(1, 0)))
	requireT.True(errors.Is(err, ErrDuplicateName))

	_, err = readAliveResp(bytes.NewReader([]byte{PortResp, 0, 0, 0}))
	requireT.True(errors.Is(err, ErrMalformed))
}

func TestPortResp(t *testing.T) {
	requireT := require.New(t)

	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)
	requireT.NoError(composePortPleaseReq(b, "abc"))
	requireT.Equal([]byte{0, 4, PortPleaseReq, 'a', 'b', 'c'}, b.B)

	info := NodeInfo{
		Name:        "abc",
		Port:        25000,
		Hidden:      true,
		HighVersion: 6,
		LowVersion:  5,
		Extra:       []byte{1, 2},
	}
	parsed, err := readPortResp(bytes.NewReader(composePortResp(&info)))
	requireT.NoError(err)
	requireT.Equal(info, parsed)

	_, err = readPortResp(bytes.NewReader(composePortResp(nil)))
	requireT.True(errors.Is(err, ErrNotFound))

	// no extra field at all
	short := composePortResp(&NodeInfo{Name: "x", Port: 1})
	parsed, err = readPortResp(bytes.NewReader(short[:len(short)-2]))
	requireT.NoError(err)
	requireT.Equal(uint16(1), parsed.Port)
}

func TestNamesResp(t *testing.T) {
	requireT := require.New(t)

	reply := composeNamesResp(4369, map[string]uint16{"b": 2, "a": 1})
	requireT.Equal([]byte{0, 0, 0x11, 0x11}, reply[:4])

	port, names, err := readNamesResp(reply)
	requireT.NoError(err)
	requireT.Equal(uint32(4369), port)
	requireT.Equal([]string{"name a at port 1", "name b at port 2"}, names)

	port, names, err = readNamesResp(reply[:4])
	requireT.NoError(err)
	requireT.Equal(uint32(4369), port)
	requireT.Empty(names)

	_, _, err = readNamesResp(reply[:3])
	requireT.True(errors.Is(err, ErrMalformed))
}
