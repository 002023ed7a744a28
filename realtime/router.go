package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/ddp"
)

// Event sources.
const (
	SourceStream  = "stream"
	SourceCatchUp = "catchup"
)

// Event is one chat message handed downstream. Live sessions tag it with
// the room, visitor and session correlation ids.
type Event struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	Origin       Origin             `json:"origin"`
	RoomID       string             `json:"roomId,omitempty"`
	VisitorToken string             `json:"visitorToken,omitempty"`
	SessionID    string             `json:"sessionId,omitempty"`
	ReceivedAt   time.Time          `json:"receivedAt"`
	Message      rocketchat.Message `json:"-"`
	// Payload is the message document exactly as the server sent it.
	Payload json.RawMessage `json:"payload"`
}

// handleFrame classifies one inbound frame. Runs on the supervisor goroutine.
func (s *Supervisor) handleFrame(sess *session, f *ddp.Frame) {
	s.metrics.Frame("in", f.Msg)

	switch f.Msg {
	case ddp.KindConnected, ddp.KindResult:
		s.advanceHandshake(sess, sess.handshake.frame(sess.phase, f))
	case ddp.KindPing:
		sess.heartbeat.seen()
		s.send(sess, ddp.Pong(f.ID))
	case ddp.KindPong:
		sess.heartbeat.seen()
	case ddp.KindChanged:
		s.routeChange(sess, f)
	case ddp.KindReady:
		sess.log.Debug().Strs("subs", f.Subs).Msg("subscription ready")
	case ddp.KindNoSub:
		// The server refused or ended a subscription; the stream stays up
		// for the others.
		ev := sess.log.Warn().Str("sub_id", f.ID)
		if f.Error != nil {
			ev = ev.Err(f.Error)
		}
		ev.Msg("subscription rejected")
	case ddp.KindError:
		sess.log.Warn().Str("reason", f.Reason).Msg("server reported a protocol error")
	case ddp.KindFailed:
		sess.log.Error().Str("server_version", f.Version).Msg("server refused protocol version")
		s.dropped()
	}
}

func (s *Supervisor) advanceHandshake(sess *session, st step) {
	if !st.handled {
		return
	}
	sess.log.Debug().Stringer("from", sess.phase).Stringer("to", st.next).Msg("handshake")
	sess.phase = st.next
	s.send(sess, st.send...)

	if st.err != nil {
		sess.log.Error().Err(st.err).Str("correlation_id", sess.handshake.loginID).Msg("login rejected")
		s.dispatch.loginFailed(st.err)
		return
	}
	if st.next == phaseSubscribed && s.state == StateHandshake {
		s.apply(trSubscribed)
	}
}

func (s *Supervisor) routeChange(sess *session, f *ddp.Frame) {
	if f.Fields == nil || f.Fields.EventName != sess.target.RoomID {
		return
	}
	// The live room stream carries room events on the same event name.
	if f.Collection != "" && f.Collection != streamRoomMessages {
		return
	}
	raw, ok := f.FirstArg()
	if !ok {
		return
	}
	var msg rocketchat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		sess.log.Warn().Err(err).Msg("undecodable message")
		return
	}

	v := sess.strategy.route(s.creds, sess.target, &msg)
	if v.closing && !s.state.Final() && !s.conversationClosed {
		// The countdown belongs to the supervisor: a transport dropped while
		// it runs must not bring the closed conversation back.
		sess.log.Info().Dur("delay", s.timings.CloseDelay).Msg("conversation closed, shutting down")
		s.conversationClosed = true
		sess.shouldWarnOnDrop = false
		s.closeTimer = s.clock.AfterFunc(s.timings.CloseDelay, func() {
			s.post(event{kind: evConversationClosed})
		})
	}
	if v.emit {
		s.emit(sess, msg, SourceStream)
	} else {
		s.metrics.Event("suppressed")
	}
	if v.ackRoom != "" {
		s.markRead(sess, v.ackRoom)
	}
}

// emit queues msg for delivery unless the session has been superseded.
// Safe to call from any goroutine.
func (s *Supervisor) emit(sess *session, msg rocketchat.Message, source string) {
	ev := Event{
		ID:         uuid.NewString(),
		Source:     source,
		Origin:     sess.target.Origin,
		ReceivedAt: s.clock.Now(),
		Message:    msg,
		Payload:    msg.Raw,
	}
	if sess.target.Origin == OriginLive {
		ev.RoomID = sess.target.RoomID
		ev.VisitorToken = sess.target.VisitorToken
		ev.SessionID = sess.target.SessionID
	}

	var queued bool
	var backlog int
	if !sess.live(func() { queued, backlog = s.dispatch.message(ev) }) || !queued {
		s.metrics.Event("stale")
		return
	}
	if backlog > 0 {
		sess.log.Warn().Int("backlog", backlog).Msg("downstream handlers falling behind")
	}
	s.metrics.Event("emitted")
}

// markRead acknowledges a room without blocking frame processing.
func (s *Supervisor) markRead(sess *session, roomID string) {
	go func() {
		if err := checked(s.api.MarkAsRead(sess.ctx, roomID)); err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			s.metrics.ReadAck("error")
			sess.log.Warn().Err(err).Str("room_id", roomID).Msg("mark as read failed")
			return
		}
		s.metrics.ReadAck("ok")
	}()
}

// poll asks the server whether the live room is still open.
func (s *Supervisor) poll(sess *session) {
	token, roomID := sess.target.VisitorToken, sess.target.RoomID
	go func() {
		res, err := s.api.LiveChatRooms(sess.ctx, token)
		if err := checked(res, err); err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			s.metrics.LivenessPoll("error")
			sess.log.Warn().Err(err).Msg("liveness poll failed")
			return
		}
		if len(res.Rooms) == 0 || !res.Contains(roomID) {
			s.metrics.LivenessPoll("closed")
			s.post(event{kind: evRoomClosed, gen: sess.gen})
			return
		}
		s.metrics.LivenessPoll("open")
	}()
}
