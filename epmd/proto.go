package epmd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/ergo-services/erldist/lib"
)

const (
	DefaultPort uint16 = 4369

	AliveReq      = 120 // 'x'
	AliveResp     = 121 // 'y'
	AliveRespX    = 118 // 'v', 32-bit creation
	PortPleaseReq = 122 // 'z'
	PortResp      = 119 // 'w'
	NamesReq      = 110 // 'n'

	// http://erlang.org/doc/reference_manual/distributed.html (section 13.5)
	// 77 is a regular public node, 72 is a hidden one
	NodeTypeNormal = 77
	NodeTypeHidden = 72

	ProtocolTCP = 0
)

var (
	// ErrNotFound is returned when the name service doesn't know the node.
	ErrNotFound = errors.New("node is not registered")
	// ErrDuplicateName is returned when the name is taken already.
	ErrDuplicateName = errors.New("node name is registered already")
	// ErrMalformed is returned on a reply violating the protocol.
	ErrMalformed = errors.New("malformed name service message")
)

// NodeInfo is what the name service keeps about a registered node.
type NodeInfo struct {
	Name        string
	Port        uint16
	Hidden      bool
	Protocol    uint8
	HighVersion uint16
	LowVersion  uint16
	Extra       []byte
}

func nodeType(hidden bool) byte {
	if hidden {
		return NodeTypeHidden
	}
	return NodeTypeNormal
}

func composeAliveReq(b *lib.Buffer, info NodeInfo) error {
	b.Allocate(2)
	b.AppendByte(AliveReq)
	b.AppendUint16(info.Port)
	b.AppendByte(nodeType(info.Hidden))
	b.AppendByte(info.Protocol)
	b.AppendUint16(info.HighVersion)
	b.AppendUint16(info.LowVersion)
	b.AppendUint16(uint16(len(info.Name)))
	b.AppendString(info.Name)
	b.AppendUint16(uint16(len(info.Extra)))
	b.Append(info.Extra)
	return b.Frame()
}

// readAliveReq parses the ALIVE2_REQ body following the tag byte.
func readAliveReq(req []byte) (NodeInfo, error) {
	if len(req) < 10 {
		return NodeInfo{}, errors.Wrap(ErrMalformed, "alive request is too short")
	}
	nameLen := int(binary.BigEndian.Uint16(req[8:10]))
	if len(req) < 10+nameLen+2 {
		return NodeInfo{}, errors.Wrap(ErrMalformed, "alive request name is truncated")
	}
	info := NodeInfo{
		Port:        binary.BigEndian.Uint16(req[0:2]),
		Hidden:      req[2] == NodeTypeHidden,
		Protocol:    req[3],
		HighVersion: binary.BigEndian.Uint16(req[4:6]),
		LowVersion:  binary.BigEndian.Uint16(req[6:8]),
		Name:        string(req[10 : 10+nameLen]),
	}
	offset := 10 + nameLen
	extraLen := int(binary.BigEndian.Uint16(req[offset : offset+2]))
	if len(req) < offset+2+extraLen {
		return NodeInfo{}, errors.Wrap(ErrMalformed, "alive request extra is truncated")
	}
	if extraLen > 0 {
		info.Extra = append([]byte(nil), req[offset+2:offset+2+extraLen]...)
	}
	return info, nil
}

func composeAliveResp(result byte, creation uint16) []byte {
	reply := []byte{AliveResp, result, 0, 0}
	binary.BigEndian.PutUint16(reply[2:4], creation)
	return reply
}

// readAliveResp reads either the 16-bit or the 32-bit creation response.
func readAliveResp(r io.Reader) (uint32, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, errors.WithStack(err)
	}

	var creation uint32
	switch head[0] {
	case AliveResp:
		var c [2]byte
		if _, err := io.ReadFull(r, c[:]); err != nil {
			return 0, errors.WithStack(err)
		}
		creation = uint32(binary.BigEndian.Uint16(c[:]))
	case AliveRespX:
		var c [4]byte
		if _, err := io.ReadFull(r, c[:]); err != nil {
			return 0, errors.WithStack(err)
		}
		creation = binary.BigEndian.Uint32(c[:])
	default:
		return 0, errors.Wrapf(ErrMalformed, "unexpected alive response tag %d", head[0])
	}

	if head[1] != 0 {
		return 0, errors.WithStack(ErrDuplicateName)
	}
	return creation, nil
}

func composePortPleaseReq(b *lib.Buffer, name string) error {
	b.Allocate(2)
	b.AppendByte(PortPleaseReq)
	b.AppendString(name)
	return b.Frame()
}

// composePortResp returns the "not found" reply for nil info.
func composePortResp(info *NodeInfo) []byte {
	if info == nil {
		return []byte{PortResp, 1}
	}

	b := make([]byte, 0, 14+len(info.Name)+len(info.Extra))
	b = append(b, PortResp, 0)
	b = binary.BigEndian.AppendUint16(b, info.Port)
	b = append(b, nodeType(info.Hidden), info.Protocol)
	b = binary.BigEndian.AppendUint16(b, info.HighVersion)
	b = binary.BigEndian.AppendUint16(b, info.LowVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(len(info.Name)))
	b = append(b, info.Name...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(info.Extra)))
	return append(b, info.Extra...)
}

func readPortResp(r io.Reader) (NodeInfo, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return NodeInfo{}, errors.WithStack(err)
	}
	if head[0] != PortResp {
		return NodeInfo{}, errors.Wrapf(ErrMalformed, "unexpected port response tag %d", head[0])
	}
	if head[1] != 0 {
		return NodeInfo{}, errors.WithStack(ErrNotFound)
	}

	// port, type, protocol, hi, lo, name length
	var fixed [10]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return NodeInfo{}, errors.WithStack(err)
	}
	info := NodeInfo{
		Port:        binary.BigEndian.Uint16(fixed[0:2]),
		Hidden:      fixed[2] == NodeTypeHidden,
		Protocol:    fixed[3],
		HighVersion: binary.BigEndian.Uint16(fixed[4:6]),
		LowVersion:  binary.BigEndian.Uint16(fixed[6:8]),
	}
	name := make([]byte, binary.BigEndian.Uint16(fixed[8:10]))
	if _, err := io.ReadFull(r, name); err != nil {
		return NodeInfo{}, errors.WithStack(err)
	}
	info.Name = string(name)

	// some daemons don't send the extra field at all
	var extraLen [2]byte
	if _, err := io.ReadFull(r, extraLen[:]); err != nil {
		if err == io.EOF {
			return info, nil
		}
		return NodeInfo{}, errors.WithStack(err)
	}
	if l := binary.BigEndian.Uint16(extraLen[:]); l > 0 {
		info.Extra = make([]byte, l)
		if _, err := io.ReadFull(r, info.Extra); err != nil {
			return NodeInfo{}, errors.WithStack(err)
		}
	}
	return info, nil
}

func composeNamesReq(b *lib.Buffer) error {
	b.Allocate(2)
	b.AppendByte(NamesReq)
	return b.Frame()
}

func composeNamesResp(port uint16, nodes map[string]uint16) []byte {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b bytes.Buffer
	b.Write(binary.BigEndian.AppendUint32(nil, uint32(port)))
	for _, name := range names {
		// io:format("name ~ts at port ~p~n", [NodeName, Port]).
		fmt.Fprintf(&b, "name %s at port %d\n", name, nodes[name])
	}
	return b.Bytes()
}

func readNamesResp(reply []byte) (uint32, []string, error) {
	if len(reply) < 4 {
		return 0, nil, errors.Wrap(ErrMalformed, "names response is too short")
	}
	var names []string
	for _, line := range bytes.Split(reply[4:], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		names = append(names, string(line))
	}
	return binary.BigEndian.Uint32(reply[:4]), names, nil
}
