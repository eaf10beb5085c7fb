package protocol

import (
	"errors"
	"fmt"
)

// ClientCommand is the leading tag byte of a client -> server datagram
type ClientCommand uint8

// ServerCommand is the leading tag byte of a server -> client datagram
type ServerCommand uint8

// Client -> server commands
const (
	CmdConnRequest    ClientCommand = 0x00
	CmdAckConnRequest ClientCommand = 0x01
	CmdReqStartGame   ClientCommand = 0x02
	CmdAckStartGame   ClientCommand = 0x03
	CmdSelfSpaceship  ClientCommand = 0x04
	CmdNewBullet      ClientCommand = 0x05
	CmdAckEndGame     ClientCommand = 0x06
	CmdKeepAlive      ClientCommand = 0x07
)

// Server -> client commands
const (
	CmdConnAccepted ServerCommand = 0x00
	CmdConnRejected ServerCommand = 0x01
	CmdStartGame    ServerCommand = 0x02
	CmdAckNewBullet ServerCommand = 0x03
	CmdAllEntities  ServerCommand = 0x04
	CmdEndGame      ServerCommand = 0x05
)

// Wire layout sizes, tag byte included where the name says "Size"
const (
	MaxPacketSize = 1000 // Largest datagram either side sends
	MaxStringLen  = 255  // Strings carry a one byte length prefix
	MaxRecords    = 255  // Collections carry a one byte count

	FloatSize = 4

	SessionAckSize    = 2                   // tag + session id
	SelfSpaceshipSize = 2 + 3*FloatSize     // tag + id + vx, vy, rotation
	NewBulletSize     = 2 + 4 + 4*FloatSize // tag + id + bullet id + px, py, vx, vy
	ConnAcceptedSize  = 2 + 3*FloatSize     // tag + id + x, y, rotation
	AckNewBulletSize  = 1 + 4               // tag + bullet id

	ShipRecordSize     = 1 + 3*FloatSize + 1 + 1 // id, x, y, rotation, lives, score
	BulletRecordSize   = 1 + 2*FloatSize         // owner id, x, y
	AsteroidRecordSize = 3 * FloatSize           // x, y, radius
)

var (
	// ErrShortBuffer is returned when a datagram ends before its layout does
	ErrShortBuffer = errors.New("short buffer")

	// ErrEmptyPacket is returned for zero length datagrams
	ErrEmptyPacket = errors.New("empty packet")

	// ErrUnknownCommand is returned for tags outside the command table
	ErrUnknownCommand = errors.New("unknown command")

	// ErrStringTooLong is returned when a string does not fit its length prefix
	ErrStringTooLong = errors.New("string too long")

	// ErrTooManyRecords is returned when a collection does not fit its count byte
	ErrTooManyRecords = errors.New("too many records")
)

// IsValid reports whether the command is part of the client command table
func (c ClientCommand) IsValid() bool {
	return c <= CmdKeepAlive
}

// IsAck reports whether the command acknowledges a reliable server message.
// Acks are consumed by the receive loop and never reach the dispatcher.
func (c ClientCommand) IsAck() bool {
	return c == CmdAckConnRequest || c == CmdAckStartGame || c == CmdAckEndGame
}

// String returns the protocol name of the command
func (c ClientCommand) String() string {
	switch c {
	case CmdConnRequest:
		return "CONN_REQUEST"
	case CmdAckConnRequest:
		return "ACK_CONN_REQUEST"
	case CmdReqStartGame:
		return "REQ_START_GAME"
	case CmdAckStartGame:
		return "ACK_START_GAME"
	case CmdSelfSpaceship:
		return "SELF_SPACESHIP"
	case CmdNewBullet:
		return "NEW_BULLET"
	case CmdAckEndGame:
		return "ACK_END_GAME"
	case CmdKeepAlive:
		return "KEEP_ALIVE"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// String returns the protocol name of the command
func (c ServerCommand) String() string {
	switch c {
	case CmdConnAccepted:
		return "CONN_ACCEPTED"
	case CmdConnRejected:
		return "CONN_REJECTED"
	case CmdStartGame:
		return "START_GAME"
	case CmdAckNewBullet:
		return "ACK_NEW_BULLET"
	case CmdAllEntities:
		return "ALL_ENTITIES"
	case CmdEndGame:
		return "END_GAME"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// PeekCommand returns the tag of a client datagram without decoding its payload
func PeekCommand(data []byte) (ClientCommand, error) {
	if len(data) == 0 {
		return 0, ErrEmptyPacket
	}

	cmd := ClientCommand(data[0])
	if !cmd.IsValid() {
		return cmd, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, data[0])
	}

	return cmd, nil
}

// Packet is a fully decoded client datagram. Exactly one payload pointer is set,
// except for REQ_START_GAME which carries none.
type Packet struct {
	Command     ClientCommand
	ConnRequest *ConnRequest   // CONN_REQUEST
	Ack         *SessionAck    // ACK_CONN_REQUEST, ACK_START_GAME, ACK_END_GAME, KEEP_ALIVE
	Spaceship   *SelfSpaceship // SELF_SPACESHIP
	Bullet      *NewBullet     // NEW_BULLET
}

// ParsePacket decodes a client datagram into its typed payload
func ParsePacket(data []byte) (*Packet, error) {
	cmd, err := PeekCommand(data)
	if err != nil {
		return nil, err
	}

	packet := &Packet{Command: cmd}

	switch cmd {
	case CmdConnRequest:
		req, err := DecodeConnRequest(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cmd, err)
		}
		packet.ConnRequest = req

	case CmdAckConnRequest, CmdAckStartGame, CmdAckEndGame, CmdKeepAlive:
		ack, err := DecodeSessionAck(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cmd, err)
		}
		packet.Ack = ack

	case CmdReqStartGame:
		// no payload

	case CmdSelfSpaceship:
		msg, err := DecodeSelfSpaceship(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cmd, err)
		}
		packet.Spaceship = msg

	case CmdNewBullet:
		msg, err := DecodeNewBullet(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cmd, err)
		}
		packet.Bullet = msg
	}

	return packet, nil
}
