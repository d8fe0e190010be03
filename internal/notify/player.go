package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"coldwatch/internal/logger"
)

// Player renders a tone schedule on some audio device
type Player interface {
	Play(ctx context.Context, bursts []Burst) error
}

// LogPlayer only logs the schedule. Used on headless hosts.
type LogPlayer struct {
	log zerolog.Logger
}

func NewLogPlayer() *LogPlayer {
	return &LogPlayer{log: logger.WithComponent("tone")}
}

func (p *LogPlayer) Play(ctx context.Context, bursts []Burst) error {
	if len(bursts) == 0 {
		return nil
	}
	p.log.Info().
		Int("bursts", len(bursts)).
		Float64("frequency", bursts[0].Frequency).
		Dur("length", Length(bursts)).
		Msg("alert tone")
	return nil
}

const DefaultSampleRate = 44100

// WAVPlayer renders the schedule into a 16-bit mono WAV file and runs
// Command with the file path as last argument (e.g. ["aplay", "-q"] or
// ["afplay"]). Every play gets its own file in Dir, removed once the
// command exits.
type WAVPlayer struct {
	Dir        string
	Command    []string
	SampleRate int
}

func (p *WAVPlayer) Play(ctx context.Context, bursts []Burst) error {
	f, err := os.CreateTemp(p.Dir, "coldwatch-alert-*.wav")
	if err != nil {
		return fmt.Errorf("create tone file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := WriteWAV(f, bursts, p.SampleRate); err != nil {
		f.Close()
		return fmt.Errorf("render tone: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tone file: %w", err)
	}

	if len(p.Command) == 0 {
		return nil
	}
	args := append(append([]string{}, p.Command[1:]...), path)
	out, err := exec.CommandContext(ctx, p.Command[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", p.Command[0], err, out)
	}
	return nil
}

// WriteWAV encodes the schedule as a 16-bit mono PCM WAV stream. Silence
// fills the gaps between bursts.
func WriteWAV(w io.WriteSeeker, bursts []Burst, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	total := int(Length(bursts).Seconds() * float64(sampleRate))
	samples := make([]int, total)

	for _, b := range bursts {
		start := int(b.Start.Seconds() * float64(sampleRate))
		n := int(b.Duration.Seconds() * float64(sampleRate))
		for i := 0; i < n && start+i < total; i++ {
			t := float64(i) / float64(sampleRate)
			v := wave(b.Waveform, b.Frequency*t) * b.Volume
			samples[start+i] = int(v * math.MaxInt16)
		}
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// WAVE_FORMAT_PCM
const wavPCM = 1

// wave returns the amplitude in [-1,1] at the given number of cycles
func wave(form Waveform, cycles float64) float64 {
	phase := cycles - math.Floor(cycles)
	switch form {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		return 4*math.Abs(phase-0.5) - 1
	case Sawtooth:
		return 2*phase - 1
	default:
		return math.Sin(2 * math.Pi * cycles)
	}
}

// NewPlayer selects a player by name: "log" or "wav"
func NewPlayer(kind, dir string, command []string) (Player, error) {
	switch kind {
	case "", "log":
		return NewLogPlayer(), nil
	case "wav":
		return &WAVPlayer{Dir: dir, Command: command}, nil
	default:
		return nil, fmt.Errorf("unknown tone player %q", kind)
	}
}
