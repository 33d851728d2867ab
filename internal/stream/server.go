package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/muurk/drowsiwatch/internal/camera"
	"github.com/muurk/drowsiwatch/internal/inference"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/protocol"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the streaming port on the station address.
	DefaultPort = 1024

	// ReceiveBufferSize is the most read from the peer per loop iteration.
	ReceiveBufferSize = 1024

	// DefaultReceivePoll is how long a receive waits before counting as would-block.
	DefaultReceivePoll = 5 * time.Millisecond

	// DefaultLoopInterval is the pause at the end of every iteration.
	DefaultLoopInterval = 100 * time.Millisecond

)

// errPeerClosed ends a session when the peer hangs up.
var errPeerClosed = errors.New("peer disconnected")

// Camera captures one frame per call.
type Camera interface {
	Capture(ctx context.Context) (camera.Frame, error)
}

// Actuator is the alarm. *actuator.Controller implements it.
type Actuator interface {
	SetAlerting(on bool) error
}

// Server streams predictions to one peer at a time.
type Server struct {
	camera     Camera
	classifier inference.Classifier
	actuator   Actuator
	labels     []string

	// Events receives session activity. Nil disables publishing.
	Events EventSink

	ReceivePoll  time.Duration
	LoopInterval time.Duration

	// WriteTimeout bounds sending one prediction. Zero blocks until the
	// peer takes the line.
	WriteTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a streaming server. labels name the classifier's outputs in order.
func New(cam Camera, classifier inference.Classifier, act Actuator, labels []string) *Server {
	return &Server{
		camera:       cam,
		classifier:   classifier,
		actuator:     act,
		labels:       labels,
		ReceivePoll:  DefaultReceivePoll,
		LoopInterval: DefaultLoopInterval,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts one connection at a time and runs its session to the end
// before accepting the next. It returns only when ctx is cancelled (or the
// listener is closed underneath it); session failures never stop it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logging.Info("Stream server listening", zap.String("addr", ln.Addr().String()))

	for {
		logging.Info("Waiting for a connection")

		conn, err := ln.Accept()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("stream listener closed: %w", err)
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		s.runSession(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Info("Ready to accept a new connection")
	}
}

// session is the state of one accepted connection.
type session struct {
	conn       net.Conn
	buf        protocol.LineBuffer
	remoteAddr string
	clock      *fpsClock
}

func (s *Server) runSession(ctx context.Context, conn net.Conn) {
	sess := &session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		clock:      newFPSClock(s.now),
	}

	logging.LogConnection(sess.remoteAddr, "session_opened")
	s.publish(Event{Kind: EventSessionOpened, RemoteAddr: sess.remoteAddr})

	// Cancellation must also unblock a send to a peer that stopped reading.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err := s.loop(ctx, sess)
	stop()
	_ = conn.Close()

	reason := "context cancelled"
	switch {
	case errors.Is(err, errPeerClosed):
		reason = errPeerClosed.Error()
		logging.Info("Peer disconnected", zap.String("remote_addr", sess.remoteAddr))
	case ctx.Err() != nil:
	default:
		reason = err.Error()
		logging.Error("Session ended",
			zap.String("remote_addr", sess.remoteAddr),
			zap.Error(err),
		)
	}

	logging.LogConnection(sess.remoteAddr, "session_closed")
	s.publish(Event{Kind: EventSessionClosed, RemoteAddr: sess.remoteAddr, Reason: reason})
}

// loop runs session iterations until one of them fails. It always returns
// a non-nil error.
func (s *Server) loop(ctx context.Context, sess *session) error {
	recv := make([]byte, ReceiveBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recvErr := s.receive(sess, recv)
		s.dispatch(sess)
		if recvErr != nil {
			return recvErr
		}

		if err := s.classifyAndSend(ctx, sess); err != nil {
			return err
		}

		if err := s.sleep(ctx, s.LoopInterval); err != nil {
			return err
		}
	}
}

// receive polls the connection once. A read that times out is the
// would-block case and not an error.
func (s *Server) receive(sess *session, recv []byte) error {
	if err := sess.conn.SetReadDeadline(time.Now().Add(s.ReceivePoll)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, err := sess.conn.Read(recv)
	if n > 0 {
		logging.LogRawBytes("Inbound", recv[:n])
		if bufErr := sess.buf.Write(recv[:n]); bufErr != nil {
			logging.Warn("Discarding inbound data",
				zap.String("remote_addr", sess.remoteAddr),
				zap.Error(bufErr),
			)
		}
	}

	if err != nil {
		if isWouldBlock(err) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return errPeerClosed
		}
		return fmt.Errorf("socket error: %w", err)
	}

	if n == 0 {
		logging.Debug("No data received in this cycle", zap.String("remote_addr", sess.remoteAddr))
	}
	return nil
}

func isWouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// dispatch decodes every complete buffered line in order and drives the
// actuator from each. Undecodable lines are logged and skipped.
func (s *Server) dispatch(sess *session) {
	for {
		line, ok := sess.buf.Next()
		if !ok {
			return
		}

		msg, err := protocol.DecodeInbound(line)
		if err != nil {
			logging.Warn("Failed to decode JSON",
				zap.String("remote_addr", sess.remoteAddr),
				zap.ByteString("line", line),
				zap.Error(err),
			)
			continue
		}

		status, _ := msg.Status()
		alert := protocol.IsAlertStatus(msg)
		logging.Debug("Inbound status",
			zap.String("remote_addr", sess.remoteAddr),
			zap.String("status", status),
			zap.Bool("alert", alert),
		)

		if err := s.actuator.SetAlerting(alert); err != nil {
			logging.Error("Failed to drive actuator",
				zap.Bool("alert", alert),
				zap.Error(err),
			)
		}
		s.publish(Event{Kind: EventStatus, RemoteAddr: sess.remoteAddr, Status: status, Alerting: alert})
	}
}

// classifyAndSend captures and classifies one frame and sends the best
// label of every detection. Any error ends the session, including a panic
// inside the classifier.
func (s *Server) classifyAndSend(ctx context.Context, sess *session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classification panicked: %v", r)
		}
	}()

	sess.clock.Tick()

	frame, err := s.camera.Capture(ctx)
	if err != nil {
		return fmt.Errorf("failed during capture: %w", err)
	}

	detections, err := s.classifier.Classify(ctx, frame)
	if err != nil {
		return fmt.Errorf("failed during classification: %w", err)
	}

	if len(detections) == 0 {
		logging.Debug("No detections", zap.String("frame_id", frame.ID))
	}

	for _, det := range detections {
		if logging.DebugEnabled() {
			logScores(frame.ID, det, s.labels)
		}

		pred, ok := protocol.BestPrediction(s.labels, det.Scores)
		if !ok {
			logging.Warn("Detection carries no scores", zap.String("frame_id", frame.ID))
			continue
		}

		line, err := protocol.EncodePrediction(pred)
		if err != nil {
			return err
		}

		if s.WriteTimeout > 0 {
			if err := sess.conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
				return fmt.Errorf("failed to set write deadline: %w", err)
			}
		}
		if _, err := sess.conn.Write(line); err != nil {
			return fmt.Errorf("failed sending data: %w", err)
		}

		logging.Debug("Sent prediction",
			zap.String("remote_addr", sess.remoteAddr),
			zap.String("label", pred.Label),
			zap.Float64("confidence", pred.Confidence),
		)
		p := pred
		s.publish(Event{Kind: EventPrediction, RemoteAddr: sess.remoteAddr, FrameID: frame.ID, Prediction: &p})
	}

	logging.Debug("Frame rate", zap.Float64("fps", sess.clock.FPS()))
	return nil
}

func logScores(frameID string, det inference.Detection, labels []string) {
	fields := []zap.Field{
		zap.String("frame_id", frameID),
		zap.Ints("rect", det.Rect[:]),
	}
	for i, score := range det.Scores {
		if i >= len(labels) {
			break
		}
		fields = append(fields, zap.Float32(labels[i], score))
	}
	logging.Debug("Predictions", fields...)
}

func (s *Server) publish(ev Event) {
	if s.Events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	s.Events.Publish(ev)
}
