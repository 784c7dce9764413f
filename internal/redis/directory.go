package redis

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	RoomCodeLength    = 6
	RoomTTL           = 24 * time.Hour
	DefaultMaxMembers = 8
	codeChars         = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	codeAttempts      = 5
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrNotCreator   = errors.New("only the room creator can delete the room")
)

// RoomDirectory stores shareable room metadata in Redis:
//
//	room:<id>        JSON RoomMetadata
//	code:<code>      room id
//	room:<id>:peers  set of connection ids currently joined
//
// Every key expires after the directory TTL.
type RoomDirectory struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	newCode func() string
}

func NewRoomDirectory(rdb redis.Cmdable) *RoomDirectory {
	return &RoomDirectory{rdb: rdb, ttl: RoomTTL, newCode: generateRoomCode}
}

func roomKey(id string) string { return "room:" + id }
func codeKey(code string) string { return "code:" + code }
func peersKey(id string) string { return "room:" + id + ":peers" }

// Create registers a new room owned by creatorID and reserves a unique code.
func (d *RoomDirectory) Create(ctx context.Context, creatorID string, maxMembers int) (*models.RoomMetadata, error) {
	if maxMembers == 0 {
		maxMembers = DefaultMaxMembers
	}

	room := &models.RoomMetadata{
		ID:         uuid.New().String(),
		CreatorID:  creatorID,
		CreatedAt:  time.Now().UTC(),
		MaxMembers: maxMembers,
	}

	for attempt := 0; attempt < codeAttempts && room.Code == ""; attempt++ {
		code := d.newCode()
		ok, err := d.rdb.SetNX(ctx, codeKey(code), room.ID, d.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve room code: %w", err)
		}
		if ok {
			room.Code = code
		}
	}
	if room.Code == "" {
		return nil, fmt.Errorf("no free room code after %d attempts", codeAttempts)
	}

	data, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	if err := d.rdb.Set(ctx, roomKey(room.ID), data, d.ttl).Err(); err != nil {
		d.rdb.Del(ctx, codeKey(room.Code))
		return nil, fmt.Errorf("store room: %w", err)
	}
	return room, nil
}

// Get looks a room up by code or id and fills in the live member count.
func (d *RoomDirectory) Get(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	room, err := d.load(ctx, identifier)
	if err != nil {
		return nil, err
	}

	count, err := d.rdb.SCard(ctx, peersKey(room.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count room members: %w", err)
	}
	room.MemberCount = int(count)
	return room, nil
}

// Delete removes a room. Only its creator may do so.
func (d *RoomDirectory) Delete(ctx context.Context, identifier, userID string) error {
	room, err := d.load(ctx, identifier)
	if err != nil {
		return err
	}
	if room.CreatorID != userID {
		return ErrNotCreator
	}
	if err := d.rdb.Del(ctx, roomKey(room.ID), codeKey(room.Code), peersKey(room.ID)).Err(); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// ResolveJoin maps a join target to the room id the hub should use. Codes
// and ids of directory rooms resolve to the room id, subject to capacity;
// connID already being a member never counts against it. Anything else is
// an ad-hoc room and is returned unchanged.
func (d *RoomDirectory) ResolveJoin(ctx context.Context, identifier, connID string) (string, error) {
	room, err := d.Get(ctx, identifier)
	if errors.Is(err, ErrRoomNotFound) {
		return identifier, nil
	}
	if err != nil {
		return "", err
	}
	if room.MemberCount < room.MaxMembers {
		return room.ID, nil
	}

	member, err := d.rdb.SIsMember(ctx, peersKey(room.ID), connID).Result()
	if err != nil {
		return "", fmt.Errorf("check room member: %w", err)
	}
	if !member {
		return "", ErrRoomFull
	}
	return room.ID, nil
}

// AddMember records connID in the room's peer set.
func (d *RoomDirectory) AddMember(ctx context.Context, roomID, connID string) error {
	pipe := d.rdb.TxPipeline()
	pipe.SAdd(ctx, peersKey(roomID), connID)
	pipe.Expire(ctx, peersKey(roomID), d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add room member: %w", err)
	}
	return nil
}

func (d *RoomDirectory) RemoveMember(ctx context.Context, roomID, connID string) error {
	if err := d.rdb.SRem(ctx, peersKey(roomID), connID).Err(); err != nil {
		return fmt.Errorf("remove room member: %w", err)
	}
	return nil
}

func (d *RoomDirectory) load(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	roomID := identifier

	// Codes are short; anything else is taken as an id.
	if len(identifier) == RoomCodeLength {
		id, err := d.rdb.Get(ctx, codeKey(identifier)).Result()
		switch {
		case err == nil:
			roomID = id
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("lookup room code: %w", err)
		}
	}

	data, err := d.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &room, nil
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, RoomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
