package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	apperrors "duelnet/pkg/errors"
	"duelnet/pkg/tracing"
	"duelnet/pkg/utils"
	"duelnet/pkg/validation"
)

// Channel implements ports.SignalingChannel on top of a DocumentStore.
//
// Layout under rooms/{roomId}:
//
//	signals/{guestPeerId}                    session document {from, to, offer, answer, updatedAt}
//	signals/{guestPeerId}/candidates/{auto}  candidate {from, candidate, createdAt}
//	members/{peerId}                         presence {peerId, name, joinedAt}
//
// Session documents are keyed by the guest. The host writes from/to/offer,
// the guest merges answer only, so neither side clobbers the other.
type Channel struct {
	store   ports.DocumentStore
	roomID  domain.RoomID
	localID domain.PeerID
	logger  *zap.SugaredLogger
	now     func() time.Time
}

var _ ports.SignalingChannel = (*Channel)(nil)

func NewChannel(store ports.DocumentStore, roomID domain.RoomID, localID domain.PeerID, logger *zap.SugaredLogger) *Channel {
	return &Channel{
		store:   store,
		roomID:  roomID,
		localID: localID,
		logger:  logger.With("room_id", roomID, "local_peer_id", localID),
		now:     time.Now,
	}
}

func (c *Channel) LocalID() domain.PeerID { return c.localID }

func (c *Channel) roomPath() string {
	return "rooms/" + string(c.roomID)
}

func (c *Channel) sessionPath(peerID domain.PeerID) string {
	return c.roomPath() + "/signals/" + string(peerID)
}

func (c *Channel) candidatesPath(peerID domain.PeerID) string {
	return c.sessionPath(peerID) + "/candidates"
}

func (c *Channel) membersPath() string {
	return c.roomPath() + "/members"
}

type sessionWire struct {
	From      domain.PeerID              `json:"from,omitempty"`
	To        domain.PeerID              `json:"to,omitempty"`
	Offer     *domain.SessionDescription `json:"offer,omitempty"`
	Answer    *domain.SessionDescription `json:"answer,omitempty"`
	UpdatedAt int64                      `json:"updatedAt,omitempty"`
}

type candidateWire struct {
	From      domain.PeerID       `json:"from"`
	Candidate domain.ICECandidate `json:"candidate"`
	CreatedAt int64               `json:"createdAt"`
}

type memberWire struct {
	PeerID   domain.PeerID `json:"peerId"`
	Name     string        `json:"name,omitempty"`
	JoinedAt int64         `json:"joinedAt"`
}

func (c *Channel) PublishOffer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescription) error {
	return c.publishSession(ctx, "publish_offer", peerID, sessionWire{
		From:  c.localID,
		To:    peerID,
		Offer: &offer,
	})
}

func (c *Channel) PublishAnswer(ctx context.Context, peerID domain.PeerID, answer domain.SessionDescription) error {
	return c.publishSession(ctx, "publish_answer", peerID, sessionWire{Answer: &answer})
}

func (c *Channel) publishSession(ctx context.Context, op string, peerID domain.PeerID, doc sessionWire) error {
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return apperrors.NewSetupError(op, err)
	}
	ctx, span := tracing.TraceSignaling(ctx, op, string(c.roomID), string(peerID))
	defer span.End()

	doc.UpdatedAt = utils.EpochMillis(c.now())
	fields, err := toFields(doc)
	if err == nil {
		err = c.store.MergeDocument(ctx, c.sessionPath(peerID), fields)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("signaling publish failed", "op", op, "peer_id", peerID, "error", err)
		return apperrors.NewSetupError(op, err).WithContext("peer_id", string(peerID))
	}
	return nil
}

func (c *Channel) PublishCandidate(ctx context.Context, peerID domain.PeerID, candidate domain.ICECandidate, fromID domain.PeerID) error {
	const op = "publish_candidate"
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return apperrors.NewSetupError(op, err)
	}
	ctx, span := tracing.TraceSignaling(ctx, op, string(c.roomID), string(peerID))
	defer span.End()

	fields, err := toFields(candidateWire{
		From:      fromID,
		Candidate: candidate,
		CreatedAt: utils.EpochMillis(c.now()),
	})
	if err == nil {
		_, err = c.store.AddToCollection(ctx, c.candidatesPath(peerID), fields)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("signaling publish failed", "op", op, "peer_id", peerID, "error", err)
		return apperrors.NewSetupError(op, err).WithContext("peer_id", string(peerID))
	}
	return nil
}

// SubscribeToSession delivers every snapshot of the peer's session document.
// Snapshots repeat earlier fields; callers apply each description once.
func (c *Channel) SubscribeToSession(ctx context.Context, peerID domain.PeerID, onUpdate func(domain.SessionDocument)) (ports.Unsubscribe, error) {
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return nil, apperrors.NewSetupError("subscribe_session", err)
	}
	unsub, err := c.store.SubscribeDocument(ctx, c.sessionPath(peerID), func(fields ports.Fields) {
		var w sessionWire
		if err := fromFields(fields, &w); err != nil {
			c.logger.Warnw("dropping malformed session document", "peer_id", peerID, "error", err)
			return
		}
		onUpdate(domain.SessionDocument{
			From:      w.From,
			To:        w.To,
			Offer:     validDescription(w.Offer, domain.SDPTypeOffer),
			Answer:    validDescription(w.Answer, domain.SDPTypeAnswer),
			UpdatedAt: utils.FromEpochMillis(w.UpdatedAt),
		})
	})
	if err != nil {
		c.logger.Warnw("signaling subscribe failed", "op", "subscribe_session", "peer_id", peerID, "error", err)
		return nil, apperrors.NewSetupError("subscribe_session", err).WithContext("peer_id", string(peerID))
	}
	return unsub, nil
}

// SubscribeToCandidates delivers added candidate documents. Delivery is at
// least once; the document id is the dedup key.
func (c *Channel) SubscribeToCandidates(ctx context.Context, peerID domain.PeerID, onAdded func(domain.CandidateDocument)) (ports.Unsubscribe, error) {
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return nil, apperrors.NewSetupError("subscribe_candidates", err)
	}
	unsub, err := c.store.SubscribeCollection(ctx, c.candidatesPath(peerID), func(change ports.DocumentChange) {
		if change.Type != ports.ChangeAdded {
			return
		}
		var w candidateWire
		if err := fromFields(change.Fields, &w); err != nil || w.Candidate.Candidate == "" {
			c.logger.Warnw("dropping malformed candidate document",
				"peer_id", peerID,
				"doc_id", change.ID,
				"error", err,
			)
			return
		}
		onAdded(domain.CandidateDocument{
			ID:        change.ID,
			From:      w.From,
			Candidate: w.Candidate,
			CreatedAt: utils.FromEpochMillis(w.CreatedAt),
		})
	})
	if err != nil {
		c.logger.Warnw("signaling subscribe failed", "op", "subscribe_candidates", "peer_id", peerID, "error", err)
		return nil, apperrors.NewSetupError("subscribe_candidates", err).WithContext("peer_id", string(peerID))
	}
	return unsub, nil
}

// JoinRoom writes the presence document that announces member to the host.
func (c *Channel) JoinRoom(ctx context.Context, member domain.MemberDocument) error {
	if err := validation.ValidatePeerID(string(member.PeerID)); err != nil {
		return apperrors.NewSetupError("join_room", err)
	}
	joined := member.JoinedAt
	if joined.IsZero() {
		joined = c.now()
	}
	fields, err := toFields(memberWire{
		PeerID:   member.PeerID,
		Name:     utils.SanitizeName(member.Name),
		JoinedAt: utils.EpochMillis(joined),
	})
	if err == nil {
		err = c.store.CreateDocument(ctx, c.membersPath()+"/"+string(member.PeerID), fields)
	}
	if err != nil {
		return apperrors.NewSetupError("join_room", err).WithContext("peer_id", string(member.PeerID))
	}
	return nil
}

func (c *Channel) LeaveRoom(ctx context.Context, peerID domain.PeerID) error {
	if err := c.store.DeleteDocument(ctx, c.membersPath()+"/"+string(peerID)); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// SubscribeToMembers reports presence documents as they appear and vanish.
func (c *Channel) SubscribeToMembers(ctx context.Context, onJoin func(domain.MemberDocument), onLeave func(domain.PeerID)) (ports.Unsubscribe, error) {
	unsub, err := c.store.SubscribeCollection(ctx, c.membersPath(), func(change ports.DocumentChange) {
		switch change.Type {
		case ports.ChangeAdded:
			var w memberWire
			if err := fromFields(change.Fields, &w); err != nil {
				c.logger.Warnw("dropping malformed member document", "doc_id", change.ID, "error", err)
				return
			}
			if w.PeerID == "" {
				w.PeerID = domain.PeerID(change.ID)
			}
			onJoin(domain.MemberDocument{
				PeerID:   w.PeerID,
				Name:     utils.SanitizeName(w.Name),
				JoinedAt: utils.FromEpochMillis(w.JoinedAt),
			})
		case ports.ChangeRemoved:
			onLeave(domain.PeerID(change.ID))
		}
	})
	if err != nil {
		return nil, apperrors.NewSetupError("subscribe_members", err)
	}
	return unsub, nil
}

func validDescription(d *domain.SessionDescription, want string) *domain.SessionDescription {
	if d == nil || d.SDP == "" {
		return nil
	}
	if d.Type == "" {
		d.Type = want
	}
	if d.Type != want {
		return nil
	}
	return d
}

func toFields(v interface{}) (ports.Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields ports.Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func fromFields(fields ports.Fields, v interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
