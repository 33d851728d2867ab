// Package camera captures frames for classification.
//
// A Source returns one frame per Capture call. CommandSource runs an
// external capture tool (rpicam-still and similar) and takes the image
// from its stdout; DirSource replays image files from a directory, which
// is how the daemon runs on a bench without a sensor.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// Frame is one captured image.
type Frame struct {
	ID         string // Trace ID, unique per frame
	Seq        uint64
	Data       []byte // Encoded image as produced by the source
	Width      int
	Height     int
	CapturedAt time.Time
}

// Source produces frames on demand.
type Source interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// ErrNoFrames is returned by a DirSource with nothing to replay.
var ErrNoFrames = errors.New("no image files to replay")

type sequence struct {
	mu  sync.Mutex
	seq uint64
}

func (s *sequence) frame(data []byte, width, height int) Frame {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	return Frame{
		ID:         uuid.New().String(),
		Seq:        seq,
		Data:       data,
		Width:      width,
		Height:     height,
		CapturedAt: time.Now(),
	}
}

// CommandSource captures a frame by running a command that writes one
// image to stdout.
type CommandSource struct {
	argv          []string
	width, height int
	seq           sequence

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandSource returns a source that runs argv for every frame.
func NewCommandSource(argv []string, width, height int) (*CommandSource, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &CommandSource{
		argv:   argv,
		width:  width,
		height: height,
		run:    runCapture,
	}, nil
}

func runCapture(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Capture implements Source.
func (s *CommandSource) Capture(ctx context.Context) (Frame, error) {
	data, err := s.run(ctx, s.argv[0], s.argv[1:]...)
	if err != nil {
		return Frame{}, fmt.Errorf("capture command %s failed: %w", s.argv[0], err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("capture command %s produced no image", s.argv[0])
	}
	return s.seq.frame(data, s.width, s.height), nil
}

// Close implements Source.
func (s *CommandSource) Close() error {
	return nil
}

// imageExtensions are the files a DirSource replays.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".raw":  true,
}

// DirSource replays the image files of a directory in name order, looping
// back to the first file after the last.
type DirSource struct {
	files         []string
	width, height int
	next          int
	seq           sequence
}

// NewDirSource lists the images in dir.
func NewDirSource(dir string, width, height int) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(files)

	logging.Debug("Replaying frames from directory",
		zap.String("dir", dir),
		zap.Int("files", len(files)),
	)

	return &DirSource{files: files, width: width, height: height}, nil
}

// Capture implements Source.
func (s *DirSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return s.seq.frame(data, s.width, s.height), nil
}

// Close implements Source.
func (s *DirSource) Close() error {
	return nil
}
