// Package livekit adapts the LiveKit room service API to the narrow
// media-server surface the pool and room ledger consume.
package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

const defaultTokenValidity = 6 * time.Hour

// Service implements ports.MediaServerClient against a LiveKit server.
type Service struct {
	cfg           config.MediaServerConfig
	tokenValidity time.Duration
	roomClient    *lksdk.RoomServiceClient
}

func NewService(cfg config.MediaServerConfig) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("media server URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("media server API key is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("media server API secret is required")
	}

	return &Service{
		cfg:           cfg,
		tokenValidity: defaultTokenValidity,
		roomClient:    lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}, nil
}

// Factory returns a constructor for fresh clients, used by the connection
// pool when growing or replacing a failed connection.
func Factory(cfg config.MediaServerConfig) ports.MediaServerFactory {
	return func() (ports.MediaServerClient, error) {
		return NewService(cfg)
	}
}

func (s *Service) CreateRoom(ctx context.Context, name string, opts ports.RoomOptions) (*ports.RoomInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	metadata, err := json.Marshal(opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room metadata: %w", err)
	}

	req := &lkproto.CreateRoomRequest{
		Name:             name,
		EmptyTimeout:     uint32(opts.EmptyTimeout / time.Second),
		DepartureTimeout: uint32(opts.DepartureTimeout / time.Second),
		MaxParticipants:  uint32(opts.MaxParticipants),
		Metadata:         string(metadata),
	}

	room, err := s.roomClient.CreateRoom(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return &ports.RoomInfo{
		Name:            room.Name,
		SID:             room.Sid,
		NumParticipants: int(room.NumParticipants),
		CreatedAt:       room.CreationTime,
	}, nil
}

func (s *Service) DeleteRoom(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("room name is required")
	}

	_, err := s.roomClient.DeleteRoom(ctx, &lkproto.DeleteRoomRequest{
		Room: name,
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (s *Service) ListRooms(ctx context.Context) ([]ports.RoomInfo, error) {
	rooms, err := s.roomClient.ListRooms(ctx, &lkproto.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	result := make([]ports.RoomInfo, 0, len(rooms.GetRooms()))
	for _, room := range rooms.GetRooms() {
		result = append(result, ports.RoomInfo{
			Name:            room.Name,
			SID:             room.Sid,
			NumParticipants: int(room.NumParticipants),
			CreatedAt:       room.CreationTime,
		})
	}
	return result, nil
}

func (s *Service) IssueToken(roomName, identity, displayName string) (string, int64, error) {
	if roomName == "" {
		return "", 0, fmt.Errorf("room name is required")
	}
	if identity == "" {
		return "", 0, fmt.Errorf("participant identity is required")
	}
	if displayName == "" {
		displayName = identity
	}

	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret)
	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(displayName).
		SetValidFor(s.tokenValidity)

	token, err := at.ToJWT()
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, time.Now().Add(s.tokenValidity).Unix(), nil
}
