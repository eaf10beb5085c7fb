package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorIs     error
		validate    func(*Packet) bool
	}{
		{
			name: "valid conn request",
			data: []byte{0x00, 0x03, 'b', 'o', 'b'},
			validate: func(p *Packet) bool {
				return p.Command == CmdConnRequest &&
					p.ConnRequest != nil &&
					p.ConnRequest.Name == "bob"
			},
		},
		{
			name: "ack conn request",
			data: []byte{0x01, 0x02},
			validate: func(p *Packet) bool {
				return p.Command == CmdAckConnRequest &&
					p.Ack != nil &&
					p.Ack.SessionID == 2
			},
		},
		{
			name: "req start game has no payload",
			data: []byte{0x02},
			validate: func(p *Packet) bool {
				return p.Command == CmdReqStartGame &&
					p.ConnRequest == nil && p.Ack == nil &&
					p.Spaceship == nil && p.Bullet == nil
			},
		},
		{
			name: "keep alive",
			data: []byte{0x07, 0x01},
			validate: func(p *Packet) bool {
				return p.Command == CmdKeepAlive && p.Ack != nil && p.Ack.SessionID == 1
			},
		},
		{
			name: "self spaceship",
			data: createSelfSpaceshipPacket(3, 1.5, -2.25, 90),
			validate: func(p *Packet) bool {
				s := p.Spaceship
				return s != nil && s.SessionID == 3 &&
					s.VelX == 1.5 && s.VelY == -2.25 && s.Rotation == 90
			},
		},
		{
			name: "new bullet",
			data: createNewBulletPacket(1, 7, 100, 200, 10, -10),
			validate: func(p *Packet) bool {
				b := p.Bullet
				return b != nil && b.SessionID == 1 && b.BulletID == 7 &&
					b.PosX == 100 && b.PosY == 200 && b.VelX == 10 && b.VelY == -10
			},
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorIs:     ErrEmptyPacket,
		},
		{
			name:        "unknown command",
			data:        []byte{0x08, 0x00},
			expectError: true,
			errorIs:     ErrUnknownCommand,
		},
		{
			name:        "conn request name longer than datagram",
			data:        []byte{0x00, 0x05, 'b', 'o'},
			expectError: true,
			errorIs:     ErrShortBuffer,
		},
		{
			name:        "conn request without length",
			data:        []byte{0x00},
			expectError: true,
			errorIs:     ErrShortBuffer,
		},
		{
			name:        "ack without session id",
			data:        []byte{0x03},
			expectError: true,
			errorIs:     ErrShortBuffer,
		},
		{
			name:        "self spaceship truncated",
			data:        createSelfSpaceshipPacket(3, 1, 1, 1)[:SelfSpaceshipSize-1],
			expectError: true,
			errorIs:     ErrShortBuffer,
		},
		{
			name:        "new bullet truncated",
			data:        createNewBulletPacket(1, 7, 0, 0, 0, 0)[:6],
			expectError: true,
			errorIs:     ErrShortBuffer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorIs != nil && !errors.Is(err, tt.errorIs) {
					t.Errorf("Expected error %v, got %v", tt.errorIs, err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if tt.validate != nil && !tt.validate(result) {
					t.Errorf("Validation failed for result: %+v", result)
				}
			}
		})
	}
}

func TestClientMessageEncoding(t *testing.T) {
	tests := []struct {
		name     string
		encode   func() ([]byte, error)
		expected []byte
	}{
		{
			name:     "conn request",
			encode:   (&ConnRequest{Name: "ann"}).Encode,
			expected: []byte{0x00, 0x03, 'a', 'n', 'n'},
		},
		{
			name:     "ack start game",
			encode:   (&SessionAck{Command: CmdAckStartGame, SessionID: 2}).Encode,
			expected: []byte{0x03, 0x02},
		},
		{
			name:     "self spaceship",
			encode:   (&SelfSpaceship{SessionID: 3, VelX: 1.5, VelY: -2.25, Rotation: 90}).Encode,
			expected: createSelfSpaceshipPacket(3, 1.5, -2.25, 90),
		},
		{
			name: "new bullet",
			encode: (&NewBullet{
				SessionID: 1, BulletID: 7, PosX: 100, PosY: 200, VelX: 10, VelY: -10,
			}).Encode,
			expected: createNewBulletPacket(1, 7, 100, 200, 10, -10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.encode()
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !bytes.Equal(data, tt.expected) {
				t.Errorf("Expected % x, got % x", tt.expected, data)
			}
		})
	}
}

func TestConnAcceptedLayout(t *testing.T) {
	msg := &ConnAccepted{SessionID: 2, SpawnX: 800, SpawnY: 450, Rotation: 0}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(data) != ConnAcceptedSize {
		t.Fatalf("Expected %d bytes, got %d", ConnAcceptedSize, len(data))
	}
	if ServerCommand(data[0]) != CmdConnAccepted || data[1] != 2 {
		t.Errorf("Unexpected prefix % x", data[:2])
	}
	if got := math.Float32frombits(binary.BigEndian.Uint32(data[2:])); got != 800 {
		t.Errorf("Expected spawn x 800, got %v", got)
	}
	if got := math.Float32frombits(binary.BigEndian.Uint32(data[6:])); got != 450 {
		t.Errorf("Expected spawn y 450, got %v", got)
	}

	decoded, err := DecodeConnAccepted(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decoded != *msg {
		t.Errorf("Expected %+v, got %+v", msg, decoded)
	}
}

func TestConnRejected(t *testing.T) {
	data := EncodeConnRejected()
	if !bytes.Equal(data, []byte{0x01}) {
		t.Errorf("Expected single 0x01 byte, got % x", data)
	}
}

func TestStartGameLayout(t *testing.T) {
	msg := &StartGame{Players: []PlayerInfo{{SessionID: 0, Name: "ann"}, {SessionID: 2, Name: "bo"}}}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expected := []byte{0x02, 0x02, 0x00, 0x03, 'a', 'n', 'n', 0x02, 0x02, 'b', 'o'}
	if !bytes.Equal(data, expected) {
		t.Fatalf("Expected % x, got % x", expected, data)
	}

	decoded, err := DecodeStartGame(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Players) != 2 || decoded.Players[1].Name != "bo" || decoded.Players[1].SessionID != 2 {
		t.Errorf("Unexpected roster %+v", decoded.Players)
	}
}

func TestAckNewBulletLayout(t *testing.T) {
	data, err := (&AckNewBullet{BulletID: 0x01020304}).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	expected := []byte{0x03, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected % x, got % x", expected, data)
	}
}

func TestAllEntitiesLayout(t *testing.T) {
	msg := &AllEntities{
		Ships: []ShipState{
			{SessionID: 0, X: 10, Y: 20, Rotation: 45, Lives: 3, Score: 1},
			{SessionID: 1, X: 30, Y: 40, Rotation: 90, Lives: 0, Score: 300},
		},
		Bullets:   []BulletState{{OwnerID: 1, X: 5, Y: 6}},
		Asteroids: []AsteroidState{{X: 100, Y: 200, Radius: 12}},
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expectedLen := 4 + 2*ShipRecordSize + BulletRecordSize + AsteroidRecordSize
	if len(data) != expectedLen || msg.Size() != expectedLen {
		t.Fatalf("Expected %d bytes, got %d (Size %d)", expectedLen, len(data), msg.Size())
	}
	if ServerCommand(data[0]) != CmdAllEntities || data[1] != 2 {
		t.Errorf("Unexpected prefix % x", data[:2])
	}

	decoded, err := DecodeAllEntities(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Ships) != 2 || len(decoded.Bullets) != 1 || len(decoded.Asteroids) != 1 {
		t.Fatalf("Unexpected counts %d/%d/%d", len(decoded.Ships), len(decoded.Bullets), len(decoded.Asteroids))
	}
	if decoded.Ships[1].Score != 255 {
		t.Errorf("Expected score clamped to 255, got %d", decoded.Ships[1].Score)
	}
	if decoded.Bullets[0] != msg.Bullets[0] {
		t.Errorf("Expected bullet %+v, got %+v", msg.Bullets[0], decoded.Bullets[0])
	}
	if decoded.Asteroids[0] != msg.Asteroids[0] {
		t.Errorf("Expected asteroid %+v, got %+v", msg.Asteroids[0], decoded.Asteroids[0])
	}
}

func TestEndGameLayout(t *testing.T) {
	msg := &EndGame{
		WinnerID:    1,
		WinnerScore: 4,
		Highscores:  []HighscoreEntry{{Score: 9, Name: "zed"}, {Score: 4, Name: "ann"}},
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expected := []byte{0x05, 0x01, 0x04, 0x02, 0x09, 0x03, 'z', 'e', 'd', 0x04, 0x03, 'a', 'n', 'n'}
	if !bytes.Equal(data, expected) {
		t.Fatalf("Expected % x, got % x", expected, data)
	}

	decoded, err := DecodeEndGame(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.WinnerID != 1 || decoded.WinnerScore != 4 || len(decoded.Highscores) != 2 {
		t.Errorf("Unexpected end game %+v", decoded)
	}
}

func TestServerDecodersRejectShortBuffers(t *testing.T) {
	full := map[string][]byte{}

	add := func(name string, encode func() ([]byte, error)) {
		data, err := encode()
		if err != nil {
			t.Fatalf("%s: encode failed: %v", name, err)
		}
		full[name] = data
	}
	add("conn accepted", (&ConnAccepted{SessionID: 1, SpawnX: 1, SpawnY: 2, Rotation: 3}).Encode)
	add("start game", (&StartGame{Players: []PlayerInfo{{SessionID: 1, Name: "abc"}}}).Encode)
	add("ack new bullet", (&AckNewBullet{BulletID: 9}).Encode)
	add("all entities", (&AllEntities{
		Ships:     []ShipState{{SessionID: 1}},
		Bullets:   []BulletState{{OwnerID: 1}},
		Asteroids: []AsteroidState{{Radius: 5}},
	}).Encode)
	add("end game", (&EndGame{Highscores: []HighscoreEntry{{Score: 1, Name: "x"}}}).Encode)

	decoders := map[string]func([]byte) error{
		"conn accepted":  func(b []byte) error { _, err := DecodeConnAccepted(b); return err },
		"start game":     func(b []byte) error { _, err := DecodeStartGame(b); return err },
		"ack new bullet": func(b []byte) error { _, err := DecodeAckNewBullet(b); return err },
		"all entities":   func(b []byte) error { _, err := DecodeAllEntities(b); return err },
		"end game":       func(b []byte) error { _, err := DecodeEndGame(b); return err },
	}

	for name, data := range full {
		decode := decoders[name]
		t.Run(name, func(t *testing.T) {
			if err := decode(data); err != nil {
				t.Fatalf("Full buffer should decode, got %v", err)
			}
			for n := 0; n < len(data); n++ {
				if err := decode(data[:n]); !errors.Is(err, ErrShortBuffer) {
					t.Errorf("Truncated to %d bytes: expected ErrShortBuffer, got %v", n, err)
				}
			}
		})
	}
}

func TestEncoderLimits(t *testing.T) {
	t.Run("string too long", func(t *testing.T) {
		_, err := (&ConnRequest{Name: strings.Repeat("a", MaxStringLen+1)}).Encode()
		if !errors.Is(err, ErrStringTooLong) {
			t.Errorf("Expected ErrStringTooLong, got %v", err)
		}
	})

	t.Run("max length string", func(t *testing.T) {
		data, err := (&ConnRequest{Name: strings.Repeat("a", MaxStringLen)}).Encode()
		if err != nil {
			t.Fatalf("Expected no error but got: %v", err)
		}
		if len(data) != 2+MaxStringLen || data[1] != 0xFF {
			t.Errorf("Unexpected encoding length %d prefix 0x%02x", len(data), data[1])
		}
	})

	t.Run("too many records", func(t *testing.T) {
		msg := &AllEntities{Bullets: make([]BulletState, MaxRecords+1)}
		if _, err := msg.Encode(); !errors.Is(err, ErrTooManyRecords) {
			t.Errorf("Expected ErrTooManyRecords, got %v", err)
		}
	})
}

func TestDecoderStickyError(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x02})
	if v := d.U8(); v != 0x01 {
		t.Fatalf("Expected 0x01, got 0x%02x", v)
	}
	if v := d.U32(); v != 0 {
		t.Errorf("Short read should return zero, got %d", v)
	}
	if !errors.Is(d.Err(), ErrShortBuffer) {
		t.Fatalf("Expected ErrShortBuffer, got %v", d.Err())
	}
	// the remaining byte is still there but the decoder refuses further reads
	if v := d.U8(); v != 0 {
		t.Errorf("Read after error should return zero, got %d", v)
	}
	if d.Offset() != 1 || d.Remaining() != 1 {
		t.Errorf("Cursor moved after error: offset %d remaining %d", d.Offset(), d.Remaining())
	}
}

func TestScalarRoundTrip(t *testing.T) {
	e := NewEncoder(16)
	e.PutU8(0xAB)
	e.PutU16(0xBEEF)
	e.PutU32(0xDEADBEEF)
	e.PutF32(-1.5)
	e.PutString("ok")

	data, err := e.Bytes()
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	expected := []byte{0xAB, 0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF}
	expected = binary.BigEndian.AppendUint32(expected, math.Float32bits(-1.5))
	expected = append(expected, 0x02, 'o', 'k')
	if !bytes.Equal(data, expected) {
		t.Fatalf("Expected % x, got % x", expected, data)
	}

	d := NewDecoder(data)
	if v := d.U8(); v != 0xAB {
		t.Errorf("Expected 0xAB, got 0x%02x", v)
	}
	if v := d.U16(); v != 0xBEEF {
		t.Errorf("Expected 0xBEEF, got 0x%04x", v)
	}
	if v := d.U32(); v != 0xDEADBEEF {
		t.Errorf("Expected 0xDEADBEEF, got 0x%08x", v)
	}
	if v := d.F32(); v != -1.5 {
		t.Errorf("Expected -1.5, got %v", v)
	}
	if v := d.String(); v != "ok" {
		t.Errorf("Expected \"ok\", got %q", v)
	}
	if d.Err() != nil || d.Remaining() != 0 {
		t.Errorf("Expected a clean full read, got err %v with %d bytes left", d.Err(), d.Remaining())
	}

	// one byte short of a uint16
	short := NewDecoder([]byte{0xBE})
	if v := short.U16(); v != 0 {
		t.Errorf("Short read should return zero, got %d", v)
	}
	if !errors.Is(short.Err(), ErrShortBuffer) || short.Offset() != 0 {
		t.Errorf("Expected ErrShortBuffer at offset 0, got %v at %d", short.Err(), short.Offset())
	}
}

func TestCommandStrings(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"client keep alive", CmdKeepAlive.String(), "KEEP_ALIVE"},
		{"client unknown", ClientCommand(0x42).String(), "Unknown(0x42)"},
		{"server all entities", CmdAllEntities.String(), "ALL_ENTITIES"},
		{"server unknown", ServerCommand(0x09).String(), "Unknown(0x09)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.got)
			}
		})
	}
}

func TestIsAck(t *testing.T) {
	acks := map[ClientCommand]bool{
		CmdConnRequest:    false,
		CmdAckConnRequest: true,
		CmdReqStartGame:   false,
		CmdAckStartGame:   true,
		CmdSelfSpaceship:  false,
		CmdNewBullet:      false,
		CmdAckEndGame:     true,
		CmdKeepAlive:      false,
	}
	for cmd, expected := range acks {
		if cmd.IsAck() != expected {
			t.Errorf("%s: expected IsAck %v", cmd, expected)
		}
	}
}

// Helper functions

func putFloat(buf []byte, v float32) {
	binary.BigEndian.PutUint32(buf, math.Float32bits(v))
}

func createSelfSpaceshipPacket(id uint8, vx, vy, rot float32) []byte {
	data := make([]byte, SelfSpaceshipSize)
	data[0] = uint8(CmdSelfSpaceship)
	data[1] = id
	putFloat(data[2:], vx)
	putFloat(data[6:], vy)
	putFloat(data[10:], rot)
	return data
}

func createNewBulletPacket(id uint8, bulletID uint32, px, py, vx, vy float32) []byte {
	data := make([]byte, NewBulletSize)
	data[0] = uint8(CmdNewBullet)
	data[1] = id
	binary.BigEndian.PutUint32(data[2:], bulletID)
	putFloat(data[6:], px)
	putFloat(data[10:], py)
	putFloat(data[14:], vx)
	putFloat(data[18:], vy)
	return data
}
