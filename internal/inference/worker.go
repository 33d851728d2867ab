// Package inference runs the drowsiness classifier.
//
// The model itself lives in a worker subprocess (a small Python program
// around the TFLite interpreter). The daemon talks to it over the worker's
// stdin and stdout using length-prefixed msgpack messages:
//
//	daemon → worker   {type:"classify", frame_data, width, height, meta:{frame_id, seq, timestamp}}
//	worker → daemon   {type:"ready", outputs}                      once, after the model loaded
//	                  {type:"result", detections:[{rect, scores}], timing}
//	                  {type:"error", error}
//
// Each frame is one synchronous request/response exchange. Worker stderr
// is forwarded to the log.
package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/muurk/drowsiwatch/internal/camera"
	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// DefaultStartTimeout bounds model loading in the worker.
const DefaultStartTimeout = 30 * time.Second

// stopTimeout is how long Close waits before killing the worker.
const stopTimeout = 2 * time.Second

// ErrWorkerExited is returned once the worker process has gone away.
var ErrWorkerExited = errors.New("inference worker exited")

// Detection is one region of interest with a score per label.
type Detection struct {
	Rect   [4]int // x, y, w, h
	Scores []float32
}

// Classifier turns a frame into detections.
type Classifier interface {
	Classify(ctx context.Context, frame camera.Frame) ([]Detection, error)
}

// WorkerConfig describes how to start the worker.
type WorkerConfig struct {
	Command      []string // worker command line; "--model <path>" is appended
	ModelPath    string
	StartTimeout time.Duration
}

// Worker is a running classifier subprocess. It implements Classifier.
type Worker struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer

	mu      sync.Mutex
	outputs int

	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

// newWorker wraps an already connected worker stream.
func newWorker(r io.Reader, w io.WriteCloser) *Worker {
	return &Worker{
		r:      bufio.NewReader(r),
		w:      w,
		closer: w,
		exited: make(chan struct{}),
	}
}

// StartWorker spawns the worker and waits for it to report the model loaded.
// A missing model file, a worker that cannot start, or one that reports an
// error or exits during startup all fail with an error naming the model.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to load %q, did you copy the model and label files onto the device? (%w)", cfg.ModelPath, err)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}

	args := append(append([]string{}, cfg.Command[1:]...), "--model", cfg.ModelPath)
	cmd := exec.Command(cfg.Command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start inference worker %s: %w", cfg.Command[0], err)
	}

	logging.Info("Inference worker spawned",
		zap.String("command", cfg.Command[0]),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", cfg.ModelPath),
	)

	w := newWorker(stdout, stdin)
	w.cmd = cmd

	go logStderr(stderr)
	go func() {
		w.exitErr = cmd.Wait()
		close(w.exited)
	}()

	if err := w.awaitReady(ctx, cfg.StartTimeout); err != nil {
		_ = cmd.Process.Kill()
		<-w.exited
		return nil, fmt.Errorf("failed to load %q: %w", cfg.ModelPath, err)
	}

	return w, nil
}

// awaitReady reads the handshake message, bounded by timeout.
func (w *Worker) awaitReady(ctx context.Context, timeout time.Duration) error {
	ready := make(chan error, 1)
	go func() {
		var resp response
		if err := readMessage(w.r, &resp); err != nil {
			ready <- fmt.Errorf("no ready message from worker: %w", err)
			return
		}
		switch resp.Type {
		case typeReady:
			w.outputs = resp.Outputs
			ready <- nil
		case typeError:
			ready <- fmt.Errorf("worker reported: %s", resp.Error)
		default:
			ready <- fmt.Errorf("unexpected %q message before ready", resp.Type)
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err == nil {
			logging.Info("Inference worker ready", zap.Int("outputs", w.outputs))
		}
		return err
	case <-timer.C:
		return fmt.Errorf("worker not ready after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outputs is the number of scores per detection the worker announced, or
// 0 if it did not say.
func (w *Worker) Outputs() int {
	return w.outputs
}

// Classify sends one frame and waits for its detections.
func (w *Worker) Classify(ctx context.Context, frame camera.Frame) ([]Detection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.exited:
		return nil, w.exitError()
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := request{
		Type:      typeClassify,
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Meta: requestMeta{
			FrameID:   frame.ID,
			Seq:       frame.Seq,
			Timestamp: frame.CapturedAt.Format(time.RFC3339Nano),
		},
	}
	if err := writeMessage(w.w, req); err != nil {
		return nil, w.streamError(err)
	}

	var resp response
	if err := readMessage(w.r, &resp); err != nil {
		return nil, w.streamError(err)
	}

	switch resp.Type {
	case typeResult:
	case typeError:
		return nil, fmt.Errorf("worker failed to classify frame %s: %s", frame.ID, resp.Error)
	default:
		return nil, fmt.Errorf("unexpected %q message from worker", resp.Type)
	}

	if logging.DebugEnabled() && len(resp.Timing) > 0 {
		logging.Debug("Inference timing",
			zap.String("frame_id", frame.ID),
			zap.Any("timing", resp.Timing),
		)
	}

	detections := make([]Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		det := Detection{Scores: make([]float32, len(d.Scores))}
		copy(det.Rect[:], d.Rect)
		for i, s := range d.Scores {
			det.Scores[i] = float32(s)
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// streamError maps a broken worker stream to ErrWorkerExited.
func (w *Worker) streamError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}
	select {
	case <-w.exited:
		return w.exitError()
	default:
	}
	return err
}

func (w *Worker) exitError() error {
	if w.exitErr != nil {
		return fmt.Errorf("%w: %v", ErrWorkerExited, w.exitErr)
	}
	return ErrWorkerExited
}

// Close stops the worker: stdin is closed so it can exit on its own, and
// it is killed if it has not exited within two seconds.
func (w *Worker) Close() error {
	_ = w.closer.Close()

	if w.cmd == nil {
		return nil
	}

	select {
	case <-w.exited:
	case <-time.After(stopTimeout):
		logging.Warn("Inference worker did not exit, killing it", zap.Int("pid", w.cmd.Process.Pid))
		_ = w.cmd.Process.Kill()
		<-w.exited
	}
	return nil
}

// logStderr forwards worker log lines, mapping Python log levels.
func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			logging.Error("Inference worker error", zap.String("log", line))
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			logging.Warn("Inference worker warning", zap.String("log", line))
		default:
			logging.Debug("Inference worker log", zap.String("log", line))
		}
	}
}
