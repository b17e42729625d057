package slp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Script opcodes used by the message encoding.
const (
	opReturn    = 0x6a
	opPushData1 = 0x4c
	opPushData2 = 0x4d
	opPushData4 = 0x4e
)

// lokadID is the protocol prefix of every SLP message.
var lokadID = []byte("SLP\x00")

// Parse decodes an output script into an SLP message. It returns an error
// wrapping ErrNotSLP when the script is not an SLP OP_RETURN at all, and
// ErrMalformed (or a more specific rule error) when it claims to be SLP but
// breaks the format.
func Parse(script []byte) (*Message, error) {
	if len(script) == 0 || script[0] != opReturn {
		return nil, ErrNotSLP
	}
	chunks, err := splitPushes(script[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSLP, err)
	}
	if len(chunks) == 0 || !bytes.Equal(chunks[0], lokadID) {
		return nil, ErrNotSLP
	}
	if len(chunks) < 3 {
		return nil, fmt.Errorf("%w: %d chunks", ErrMalformed, len(chunks))
	}

	typ := chunks[1]
	if len(typ) != 1 && len(typ) != 2 {
		return nil, fmt.Errorf("%w: token type must be 1 or 2 bytes", ErrMalformed)
	}
	var tokenType uint16
	for _, b := range typ {
		tokenType = tokenType<<8 | uint16(b)
	}

	m := &Message{TokenType: TokenType(tokenType), Kind: Kind(chunks[2])}
	if !m.TokenType.Supported() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedType, tokenType)
	}

	fields := chunks[3:]
	switch m.Kind {
	case KindGenesis:
		err = parseGenesis(m, fields)
	case KindMint:
		err = parseMint(m, fields)
	case KindSend:
		err = parseSend(m, fields)
	default:
		err = fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, chunks[2])
	}
	if err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseGenesis(m *Message, f [][]byte) error {
	if len(f) != 7 {
		return fmt.Errorf("%w: genesis needs 7 fields, got %d", ErrMalformed, len(f))
	}
	m.Ticker = string(f[0])
	m.Name = string(f[1])
	m.DocumentURL = string(f[2])
	if len(f[3]) > 0 {
		m.DocumentHash = append([]byte(nil), f[3]...)
	}
	if len(f[4]) != 1 {
		return fmt.Errorf("%w: decimals must be 1 byte", ErrMalformed)
	}
	m.Decimals = f[4][0]
	baton, err := parseBaton(f[5])
	if err != nil {
		return err
	}
	m.MintBatonVout = baton
	qty, err := parseAmount(f[6])
	if err != nil {
		return err
	}
	m.Quantity = qty
	return nil
}

func parseMint(m *Message, f [][]byte) error {
	if len(f) != 3 {
		return fmt.Errorf("%w: mint needs 3 fields, got %d", ErrMalformed, len(f))
	}
	if err := parseTokenID(m, f[0]); err != nil {
		return err
	}
	baton, err := parseBaton(f[1])
	if err != nil {
		return err
	}
	m.MintBatonVout = baton
	qty, err := parseAmount(f[2])
	if err != nil {
		return err
	}
	m.Quantity = qty
	return nil
}

func parseSend(m *Message, f [][]byte) error {
	if len(f) < 2 {
		return fmt.Errorf("%w: send needs a token id and at least one amount", ErrMalformed)
	}
	if err := parseTokenID(m, f[0]); err != nil {
		return err
	}
	if len(f)-1 > MaxSendOutputs {
		return ErrTooManySendOutputs
	}
	m.Amounts = make([]uint64, 0, len(f)-1)
	for _, chunk := range f[1:] {
		a, err := parseAmount(chunk)
		if err != nil {
			return err
		}
		m.Amounts = append(m.Amounts, a)
	}
	return nil
}

func parseTokenID(m *Message, chunk []byte) error {
	if len(chunk) != len(m.TokenID) {
		return fmt.Errorf("%w: token id must be %d bytes", ErrMalformed, len(m.TokenID))
	}
	copy(m.TokenID[:], chunk)
	return nil
}

func parseBaton(chunk []byte) (uint32, error) {
	switch len(chunk) {
	case 0:
		return 0, nil
	case 1:
		if chunk[0] < 2 {
			return 0, ErrBatonVoutReserved
		}
		return uint32(chunk[0]), nil
	default:
		return 0, fmt.Errorf("%w: mint baton vout must be 0 or 1 bytes", ErrMalformed)
	}
}

func parseAmount(chunk []byte) (uint64, error) {
	if len(chunk) != 8 {
		return 0, fmt.Errorf("%w: amount must be 8 bytes, got %d", ErrMalformed, len(chunk))
	}
	return binary.BigEndian.Uint64(chunk), nil
}

// splitPushes splits script bytes into data pushes. Any non-push opcode is
// an error.
func splitPushes(b []byte) ([][]byte, error) {
	var chunks [][]byte
	for len(b) > 0 {
		op := b[0]
		b = b[1:]

		var n int
		switch {
		case op == 0x00:
			n = 0
		case op < opPushData1:
			n = int(op)
		case op == opPushData1:
			if len(b) < 1 {
				return nil, fmt.Errorf("truncated pushdata1")
			}
			n = int(b[0])
			b = b[1:]
		case op == opPushData2:
			if len(b) < 2 {
				return nil, fmt.Errorf("truncated pushdata2")
			}
			n = int(binary.LittleEndian.Uint16(b))
			b = b[2:]
		case op == opPushData4:
			if len(b) < 4 {
				return nil, fmt.Errorf("truncated pushdata4")
			}
			n = int(binary.LittleEndian.Uint32(b))
			b = b[4:]
		default:
			return nil, fmt.Errorf("non-push opcode 0x%02x", op)
		}

		if n < 0 || n > len(b) {
			return nil, fmt.Errorf("push of %d bytes exceeds script", n)
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks, nil
}

// Script encodes the message as an OP_RETURN output script.
func (m *Message) Script() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	buf := []byte{opReturn}
	buf = appendPush(buf, lokadID)
	if m.TokenType > 0xff {
		buf = appendPush(buf, []byte{byte(m.TokenType >> 8), byte(m.TokenType)})
	} else {
		buf = appendPush(buf, []byte{byte(m.TokenType)})
	}
	buf = appendPush(buf, []byte(m.Kind))

	switch m.Kind {
	case KindGenesis:
		buf = appendPush(buf, []byte(m.Ticker))
		buf = appendPush(buf, []byte(m.Name))
		buf = appendPush(buf, []byte(m.DocumentURL))
		buf = appendPush(buf, m.DocumentHash)
		buf = appendPush(buf, []byte{m.Decimals})
		buf = appendPush(buf, batonBytes(m.MintBatonVout))
		buf = appendPush(buf, amountBytes(m.Quantity))
	case KindMint:
		buf = appendPush(buf, m.TokenID[:])
		buf = appendPush(buf, batonBytes(m.MintBatonVout))
		buf = appendPush(buf, amountBytes(m.Quantity))
	case KindSend:
		buf = appendPush(buf, m.TokenID[:])
		for _, a := range m.Amounts {
			buf = appendPush(buf, amountBytes(a))
		}
	}
	return buf, nil
}

func batonBytes(vout uint32) []byte {
	if vout == 0 {
		return nil
	}
	return []byte{byte(vout)}
}

func amountBytes(a uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, a)
}

// appendPush appends the minimal push of data. Empty data is encoded as
// OP_PUSHDATA1 0x00.
func appendPush(buf, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		buf = append(buf, opPushData1, 0x00)
	case n < opPushData1:
		buf = append(buf, byte(n))
	case n <= 0xff:
		buf = append(buf, opPushData1, byte(n))
	case n <= 0xffff:
		buf = append(buf, opPushData2)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, opPushData4)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	}
	return append(buf, data...)
}
