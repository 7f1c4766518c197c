package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// WorkerSource hands out the worker for a newly created room.
type WorkerSource interface {
	Next() core.Worker
}

type RoomManagerConfig struct {
	Codecs            []domain.RtpCodecCapability
	DefaultVideoCodec string
	Transport         core.WebRtcTransportOptions
}

// RoomManager maps room ids to live rooms and routes every engine call.
type RoomManager struct {
	workers WorkerSource
	cfg     RoomManagerConfig

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager(workers WorkerSource, cfg RoomManagerConfig) *RoomManager {
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = domain.DefaultMediaCodecs()
	}
	if cfg.DefaultVideoCodec == "" {
		cfg.DefaultVideoCodec = domain.DefaultVideoCodec
	}
	return &RoomManager{workers: workers, cfg: cfg, rooms: make(map[domain.RoomID]*Room)}
}

// getOrInsert picks the worker under the manager lock so placement follows creation order.
func (m *RoomManager) getOrInsert(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room, false
	}
	room = newRoom(id, m.workers.Next())
	m.rooms[id] = room
	return room, true
}

// drop removes the map entry only if it still refers to room.
func (m *RoomManager) drop(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[room.id]; ok && cur == room {
		delete(m.rooms, room.id)
	}
}

// CreateOrJoin adds peerID to roomID, creating the room and its router on first use.
func (m *RoomManager) CreateOrJoin(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	videoCodec string,
) (*domain.RoomState, error) {
	if err := roomID.Validate(); err != nil {
		return nil, fmt.Errorf("room id: %w", err)
	}
	if err := peerID.Validate(); err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}
	if videoCodec == "" {
		videoCodec = m.cfg.DefaultVideoCodec
	}
	for {
		room, created := m.getOrInsert(roomID)
		if created {
			room.init(context.WithoutCancel(ctx), domain.FilterCodecs(m.cfg.Codecs, videoCodec))
			if room.err != nil {
				m.drop(room)
			}
		}
		if err := room.wait(ctx); err != nil {
			return nil, err
		}
		state, err := room.join(peerID)
		if errors.Is(err, domain.ErrRoomClosed) {
			// lost the race with the last peer leaving, start over on a fresh room
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(peerID)).
			Bool("created", created).Int("others", len(state.Peers)).Msg("peer joined")
		return state, nil
	}
}

func (m *RoomManager) lookup(ctx context.Context, id domain.RoomID) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if err := room.wait(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// Get returns a ready room.
func (m *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	select {
	case <-room.ready:
		return room, room.err == nil
	default:
		return nil, false
	}
}

func (m *RoomManager) Capabilities(id domain.RoomID) (domain.RtpCapabilities, error) {
	room, ok := m.Get(id)
	if !ok {
		return domain.RtpCapabilities{}, domain.ErrRoomNotFound
	}
	return room.router.RtpCapabilities(), nil
}

// List returns ready rooms ordered by id.
func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		select {
		case <-r.ready:
			if r.err == nil {
				out = append(out, domain.RoomInfo{ID: r.id, PeerCount: r.PeerCount()})
			}
		default:
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RoomManager) CreateTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	dir domain.Direction,
) (domain.TransportData, error) {
	if !dir.Valid() {
		return domain.TransportData{}, domain.ErrInvalidDirection
	}
	room, err := m.lookup(ctx, roomID)
	if err != nil {
		return domain.TransportData{}, err
	}
	room.mu.Lock()
	err = room.hasPeerLocked(peerID)
	room.mu.Unlock()
	if err != nil {
		return domain.TransportData{}, err
	}

	t, err := room.router.CreateWebRtcTransport(ctx, m.cfg.Transport)
	if err != nil {
		return domain.TransportData{}, fmt.Errorf("create transport: %w", err)
	}
	if err := room.addTransport(peerID, t, dir); err != nil {
		_ = t.Close()
		return domain.TransportData{}, err
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(peerID)).
		Str("transport", string(t.ID())).Str("direction", string(dir)).Msg("transport created")
	return t.Data(), nil
}

func (m *RoomManager) ConnectTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
	params domain.ConnectParams,
) error {
	room, err := m.lookup(ctx, roomID)
	if err != nil {
		return err
	}
	t, err := room.transport(peerID, transportID)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(peerID)).
		Str("transport", string(transportID)).Msg("transport connected")
	return nil
}

// CloseTransport closes one transport; its producers and consumers go with it.
func (m *RoomManager) CloseTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
) error {
	room, err := m.lookup(ctx, roomID)
	if err != nil {
		return err
	}
	t, err := room.transport(peerID, transportID)
	if err != nil {
		return err
	}
	return t.Close()
}

func (m *RoomManager) CreateProducer(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
	kind domain.MediaKind,
	params domain.RtpParameters,
) (domain.ProducerData, error) {
	if !kind.Valid() {
		return domain.ProducerData{}, domain.ErrInvalidKind
	}
	room, err := m.lookup(ctx, roomID)
	if err != nil {
		return domain.ProducerData{}, err
	}
	t, err := room.transport(peerID, transportID)
	if err != nil {
		return domain.ProducerData{}, err
	}
	p, err := t.Produce(ctx, kind, params)
	if err != nil {
		return domain.ProducerData{}, fmt.Errorf("produce: %w", err)
	}
	if err := room.addProducer(peerID, p); err != nil {
		_ = p.Close()
		return domain.ProducerData{}, err
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(peerID)).
		Str("producer", string(p.ID())).Str("kind", string(kind)).Msg("producer created")
	return domain.ProducerData{ID: p.ID(), PeerID: peerID}, nil
}

// CreateConsumer returns nil data without error when the router cannot serve caps.
func (m *RoomManager) CreateConsumer(
	ctx context.Context,
	roomID domain.RoomID,
	consumerPeerID domain.PeerID,
	producerPeerID domain.PeerID,
	transportID domain.TransportID,
	producerID domain.ProducerID,
	caps domain.RtpCapabilities,
) (*domain.ConsumerData, error) {
	room, err := m.lookup(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	err = room.hasPeerLocked(consumerPeerID)
	room.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !room.router.CanConsume(producerID, caps) {
		log.Warn().Err(domain.ErrCapabilityMismatch).Str("module", "app.rooms").Str("room", string(roomID)).
			Str("peer", string(consumerPeerID)).Str("producer", string(producerID)).Msg("cannot consume, skipping")
		return nil, nil
	}
	t, err := room.transport(consumerPeerID, transportID)
	if err != nil {
		return nil, err
	}
	c, err := t.Consume(ctx, producerID, caps)
	if err != nil {
		return nil, errors.Join(domain.ErrConsumeFailed, err)
	}
	if err := room.addConsumer(consumerPeerID, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(consumerPeerID)).
		Str("consumer", string(c.ID())).Str("producer", string(producerID)).Msg("consumer created")
	return &domain.ConsumerData{
		ConsumerID:    c.ID(),
		ProducerID:    c.ProducerID(),
		PeerID:        producerPeerID,
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
		Type:          c.Type(),
	}, nil
}

// RemovePeer releases everything the peer owns and closes the room when it empties.
// Removing an absent peer does nothing.
func (m *RoomManager) RemovePeer(roomID domain.RoomID, peerID domain.PeerID) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case <-room.ready:
	default:
		// still initialising, so the peer cannot have joined yet
		return
	}
	if room.err != nil {
		return
	}

	found, empty, transports := room.leave(peerID)
	if !found {
		return
	}
	for _, t := range transports {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("transport", string(t.ID())).Msg("close transport")
		}
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("peer", string(peerID)).
		Int("transports", len(transports)).Msg("peer removed")
	if !empty {
		return
	}
	m.drop(room)
	if err := room.router.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(roomID)).Msg("close router")
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Msg("room closed")
}
