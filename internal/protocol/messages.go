package protocol

import "fmt"

// ConnRequest asks the server for a session.
// Layout: [tag:1][nameLen:1][name:nameLen]
type ConnRequest struct {
	Name string
}

// SessionAck is the payload shared by every message that only carries the
// sender's session id: the three barrier acks and KEEP_ALIVE.
// Layout: [tag:1][sessionID:1]
type SessionAck struct {
	Command   ClientCommand
	SessionID uint8
}

// SelfSpaceship reports the client's steering state.
// Layout: [tag:1][sessionID:1][vx:4][vy:4][rotation:4]
type SelfSpaceship struct {
	SessionID uint8
	VelX      float32
	VelY      float32
	Rotation  float32 // degrees
}

// NewBullet asks the server to spawn a bullet. BulletID is chosen by the client
// and increases per owner; retransmissions reuse it.
// Layout: [tag:1][sessionID:1][bulletID:4][px:4][py:4][vx:4][vy:4]
type NewBullet struct {
	SessionID uint8
	BulletID  uint32
	PosX      float32
	PosY      float32
	VelX      float32
	VelY      float32
}

// ConnAccepted hands a session id and spawn pose to a joining client.
// Layout: [tag:1][sessionID:1][x:4][y:4][rotation:4]
type ConnAccepted struct {
	SessionID uint8
	SpawnX    float32
	SpawnY    float32
	Rotation  float32
}

// PlayerInfo is one roster entry in START_GAME
type PlayerInfo struct {
	SessionID uint8
	Name      string
}

// StartGame announces the roster of a starting match.
// Layout: [tag:1][count:1]{[sessionID:1][nameLen:1][name]}
type StartGame struct {
	Players []PlayerInfo
}

// AckNewBullet confirms a NEW_BULLET.
// Layout: [tag:1][bulletID:4]
type AckNewBullet struct {
	BulletID uint32
}

// ShipState is one ship record in ALL_ENTITIES
type ShipState struct {
	SessionID uint8
	X, Y      float32
	Rotation  float32
	Lives     int
	Score     int
}

// BulletState is one bullet record in ALL_ENTITIES
type BulletState struct {
	OwnerID uint8
	X, Y    float32
}

// AsteroidState is one asteroid record in ALL_ENTITIES
type AsteroidState struct {
	X, Y   float32
	Radius float32
}

// AllEntities is the per-tick snapshot broadcast.
// Layout: [tag:1][ships:1]{ship:15}[bullets:1]{bullet:9}[asteroids:1]{asteroid:12}
type AllEntities struct {
	Ships     []ShipState
	Bullets   []BulletState
	Asteroids []AsteroidState
}

// HighscoreEntry is one line of the END_GAME leaderboard
type HighscoreEntry struct {
	Score int
	Name  string
}

// EndGame announces the winner and the persisted leaderboard.
// Layout: [tag:1][winnerID:1][winnerScore:1][count:1]{[score:1][nameLen:1][name]}
type EndGame struct {
	WinnerID    uint8
	WinnerScore int
	Highscores  []HighscoreEntry
}

// Encode serializes the request
func (m *ConnRequest) Encode() ([]byte, error) {
	e := NewEncoder(2 + len(m.Name))
	e.PutU8(uint8(CmdConnRequest))
	e.PutString(m.Name)
	return e.Bytes()
}

// DecodeConnRequest parses a CONN_REQUEST datagram
func DecodeConnRequest(data []byte) (*ConnRequest, error) {
	d := NewDecoder(data)
	d.Skip(1)
	msg := &ConnRequest{Name: d.String()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the ack
func (m *SessionAck) Encode() ([]byte, error) {
	return []byte{uint8(m.Command), m.SessionID}, nil
}

// DecodeSessionAck parses any id-only client datagram
func DecodeSessionAck(data []byte) (*SessionAck, error) {
	d := NewDecoder(data)
	msg := &SessionAck{Command: ClientCommand(d.U8()), SessionID: d.U8()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the steering update
func (m *SelfSpaceship) Encode() ([]byte, error) {
	e := NewEncoder(SelfSpaceshipSize)
	e.PutU8(uint8(CmdSelfSpaceship))
	e.PutU8(m.SessionID)
	e.PutF32(m.VelX)
	e.PutF32(m.VelY)
	e.PutF32(m.Rotation)
	return e.Bytes()
}

// DecodeSelfSpaceship parses a SELF_SPACESHIP datagram
func DecodeSelfSpaceship(data []byte) (*SelfSpaceship, error) {
	d := NewDecoder(data)
	d.Skip(1)
	msg := &SelfSpaceship{
		SessionID: d.U8(),
		VelX:      d.F32(),
		VelY:      d.F32(),
		Rotation:  d.F32(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the fire command
func (m *NewBullet) Encode() ([]byte, error) {
	e := NewEncoder(NewBulletSize)
	e.PutU8(uint8(CmdNewBullet))
	e.PutU8(m.SessionID)
	e.PutU32(m.BulletID)
	e.PutF32(m.PosX)
	e.PutF32(m.PosY)
	e.PutF32(m.VelX)
	e.PutF32(m.VelY)
	return e.Bytes()
}

// DecodeNewBullet parses a NEW_BULLET datagram
func DecodeNewBullet(data []byte) (*NewBullet, error) {
	d := NewDecoder(data)
	d.Skip(1)
	msg := &NewBullet{
		SessionID: d.U8(),
		BulletID:  d.U32(),
		PosX:      d.F32(),
		PosY:      d.F32(),
		VelX:      d.F32(),
		VelY:      d.F32(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the acceptance
func (m *ConnAccepted) Encode() ([]byte, error) {
	e := NewEncoder(ConnAcceptedSize)
	e.PutU8(uint8(CmdConnAccepted))
	e.PutU8(m.SessionID)
	e.PutF32(m.SpawnX)
	e.PutF32(m.SpawnY)
	e.PutF32(m.Rotation)
	return e.Bytes()
}

// DecodeConnAccepted parses a CONN_ACCEPTED datagram
func DecodeConnAccepted(data []byte) (*ConnAccepted, error) {
	d := NewDecoder(data)
	if err := expectServerTag(d, CmdConnAccepted); err != nil {
		return nil, err
	}
	msg := &ConnAccepted{
		SessionID: d.U8(),
		SpawnX:    d.F32(),
		SpawnY:    d.F32(),
		Rotation:  d.F32(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeConnRejected returns the single byte rejection datagram
func EncodeConnRejected() []byte {
	return []byte{uint8(CmdConnRejected)}
}

// Encode serializes the roster
func (m *StartGame) Encode() ([]byte, error) {
	e := NewEncoder(64)
	e.PutU8(uint8(CmdStartGame))
	e.PutCount(len(m.Players))
	for _, p := range m.Players {
		e.PutU8(p.SessionID)
		e.PutString(p.Name)
	}
	return e.Bytes()
}

// DecodeStartGame parses a START_GAME datagram
func DecodeStartGame(data []byte) (*StartGame, error) {
	d := NewDecoder(data)
	if err := expectServerTag(d, CmdStartGame); err != nil {
		return nil, err
	}
	n := d.Count(2)
	msg := &StartGame{Players: make([]PlayerInfo, 0, n)}
	for i := 0; i < n && d.Err() == nil; i++ {
		msg.Players = append(msg.Players, PlayerInfo{SessionID: d.U8(), Name: d.String()})
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the bullet ack
func (m *AckNewBullet) Encode() ([]byte, error) {
	e := NewEncoder(AckNewBulletSize)
	e.PutU8(uint8(CmdAckNewBullet))
	e.PutU32(m.BulletID)
	return e.Bytes()
}

// DecodeAckNewBullet parses an ACK_NEW_BULLET datagram
func DecodeAckNewBullet(data []byte) (*AckNewBullet, error) {
	d := NewDecoder(data)
	if err := expectServerTag(d, CmdAckNewBullet); err != nil {
		return nil, err
	}
	msg := &AckNewBullet{BulletID: d.U32()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Size returns the encoded length of the snapshot
func (m *AllEntities) Size() int {
	return 4 + len(m.Ships)*ShipRecordSize + len(m.Bullets)*BulletRecordSize +
		len(m.Asteroids)*AsteroidRecordSize
}

// Encode serializes the snapshot
func (m *AllEntities) Encode() ([]byte, error) {
	e := NewEncoder(m.Size())
	e.PutU8(uint8(CmdAllEntities))

	e.PutCount(len(m.Ships))
	for _, s := range m.Ships {
		e.PutU8(s.SessionID)
		e.PutF32(s.X)
		e.PutF32(s.Y)
		e.PutF32(s.Rotation)
		e.PutU8(clampByte(s.Lives))
		e.PutU8(clampByte(s.Score))
	}

	e.PutCount(len(m.Bullets))
	for _, b := range m.Bullets {
		e.PutU8(b.OwnerID)
		e.PutF32(b.X)
		e.PutF32(b.Y)
	}

	e.PutCount(len(m.Asteroids))
	for _, a := range m.Asteroids {
		e.PutF32(a.X)
		e.PutF32(a.Y)
		e.PutF32(a.Radius)
	}

	return e.Bytes()
}

// DecodeAllEntities parses an ALL_ENTITIES datagram
func DecodeAllEntities(data []byte) (*AllEntities, error) {
	d := NewDecoder(data)
	if err := expectServerTag(d, CmdAllEntities); err != nil {
		return nil, err
	}

	msg := &AllEntities{}

	n := d.Count(ShipRecordSize)
	msg.Ships = make([]ShipState, 0, n)
	for i := 0; i < n; i++ {
		msg.Ships = append(msg.Ships, ShipState{
			SessionID: d.U8(),
			X:         d.F32(),
			Y:         d.F32(),
			Rotation:  d.F32(),
			Lives:     int(d.U8()),
			Score:     int(d.U8()),
		})
	}

	n = d.Count(BulletRecordSize)
	msg.Bullets = make([]BulletState, 0, n)
	for i := 0; i < n; i++ {
		msg.Bullets = append(msg.Bullets, BulletState{OwnerID: d.U8(), X: d.F32(), Y: d.F32()})
	}

	n = d.Count(AsteroidRecordSize)
	msg.Asteroids = make([]AsteroidState, 0, n)
	for i := 0; i < n; i++ {
		msg.Asteroids = append(msg.Asteroids, AsteroidState{X: d.F32(), Y: d.F32(), Radius: d.F32()})
	}

	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode serializes the end of match announcement
func (m *EndGame) Encode() ([]byte, error) {
	e := NewEncoder(64)
	e.PutU8(uint8(CmdEndGame))
	e.PutU8(m.WinnerID)
	e.PutU8(clampByte(m.WinnerScore))
	e.PutCount(len(m.Highscores))
	for _, h := range m.Highscores {
		e.PutU8(clampByte(h.Score))
		e.PutString(h.Name)
	}
	return e.Bytes()
}

// DecodeEndGame parses an END_GAME datagram
func DecodeEndGame(data []byte) (*EndGame, error) {
	d := NewDecoder(data)
	if err := expectServerTag(d, CmdEndGame); err != nil {
		return nil, err
	}
	msg := &EndGame{
		WinnerID:    d.U8(),
		WinnerScore: int(d.U8()),
	}
	n := d.Count(2)
	msg.Highscores = make([]HighscoreEntry, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		msg.Highscores = append(msg.Highscores, HighscoreEntry{Score: int(d.U8()), Name: d.String()})
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return msg, nil
}

func expectServerTag(d *Decoder, want ServerCommand) error {
	tag := ServerCommand(d.U8())
	if err := d.Err(); err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnknownCommand, want, tag)
	}
	return nil
}
