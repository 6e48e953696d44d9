package eggcode

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eggbot/modules/queue"
	"eggbot/modules/unit"
)

type collector struct {
	tasks []queue.Task
}

func (c *collector) Push(_ context.Context, t queue.Task) error {
	c.tasks = append(c.tasks, t)
	return nil
}

func newPlanner(opt Options) (*Planner, *collector, *test.Hook) {
	log, hook := test.NewNullLogger()
	c := &collector{}
	return NewPlanner(c, unit.Coordinate{}, opt, log), c, hook
}

func TestParse(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"SP,1,500", Command{Kind: SetPen, Raw: "SP,1,500", PenState: 1, Duration: 500}},
		{"sp,0,250,7\r\n", Command{Kind: SetPen, Raw: "sp,0,250,7", PenState: 0, Duration: 250}},
		{"SM,1000,-90,64", Command{Kind: Move, Raw: "SM,1000,-90,64", Duration: 1000, PenSteps: -90, EggSteps: 64}},
		{"SM, 20, 1, 2", Command{Kind: Move, Raw: "SM, 20, 1, 2", Duration: 20, PenSteps: 1, EggSteps: 2}},
		{"V", Command{Kind: Version, Raw: "V"}},
		{"EM,1,1", Command{Kind: Unknown, Raw: "EM,1,1"}},
		{"", Command{Kind: Unknown}},
	}
	for _, c := range cases {
		got, err := Parse(c.line)
		require.NoError(t, err, c.line)
		assert.Equal(t, c.want, got, c.line)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{"SP,1", "SP,x,100", "SM,100,1", "SM,100,a,2", "SM,-5,0,0", "SP,1,-1"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestStepperMoveFromRest(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	cmd, err := Parse("SM,1000,0,64")
	require.NoError(t, err)
	require.NoError(t, p.Apply(context.Background(), cmd))

	require.Len(t, c.tasks, 1)
	seg := c.tasks[0]
	assert.InDelta(t, 1.0, unit.Difference(seg.From.Egg, seg.To.Egg), 1e-12)
	assert.InDelta(t, 0.0, unit.Difference(seg.From.Pen, seg.To.Pen), 1e-12)
	assert.Equal(t, 1.0, seg.Dt)
	assert.Zero(t, seg.From.EggSpeed)
	assert.InDelta(t, 2.0, p.Position().EggSpeed, 1e-12)
}

func TestContinuousSpeedCarriesOver(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	ctx := context.Background()
	require.NoError(t, p.Move(ctx, 1, 0, 64))
	require.NoError(t, p.Move(ctx, 1, 0, 64))
	require.Len(t, c.tasks, 2)
	assert.InDelta(t, 2.0, c.tasks[1].From.EggSpeed, 1e-12)
	assert.InDelta(t, 0.0, p.Position().EggSpeed, 1e-12)
}

func TestInstantSpeed(t *testing.T) {
	p, c, _ := newPlanner(Options{Speed: Instant})
	require.NoError(t, p.Move(context.Background(), 0.5, 45, 64))
	require.Len(t, c.tasks, 1)
	assert.InDelta(t, 2.0, c.tasks[0].From.EggSpeed, 1e-12)
	assert.InDelta(t, 1.0, c.tasks[0].From.PenSpeed, 1e-12)
	// average speed start means no acceleration
	assert.InDelta(t, 2.0, p.Position().EggSpeed, 1e-12)
	assert.InDelta(t, 1.0, p.Position().PenSpeed, 1e-12)
}

func TestSetPenOnlyMovesServo(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	ctx := context.Background()
	require.NoError(t, p.Move(ctx, 1, 30, 64))
	before := p.Position()
	require.NotZero(t, before.EggSpeed)

	cmd, err := Parse("SP,1,500")
	require.NoError(t, err)
	require.NoError(t, p.Apply(ctx, cmd))

	require.Len(t, c.tasks, 2)
	seg := c.tasks[1]
	assert.Zero(t, seg.From.EggSpeed)
	assert.Zero(t, seg.From.PenSpeed)
	assert.Equal(t, before.Egg, seg.To.Egg)
	assert.Equal(t, before.Pen, seg.To.Pen)
	assert.Equal(t, 1.0, seg.To.Servo)
	assert.Equal(t, 0.5, seg.Dt)
	assert.Zero(t, p.Position().EggSpeed)
	assert.Zero(t, p.Position().PenSpeed)
}

func TestZeroDurationLeavesRest(t *testing.T) {
	p, _, _ := newPlanner(Options{})
	require.NoError(t, p.Move(context.Background(), 0, 90, 64))
	assert.Zero(t, p.Position().EggSpeed)
	assert.Zero(t, p.Position().PenSpeed)
}

func TestPenBoundsClamp(t *testing.T) {
	p, c, hook := newPlanner(Options{})
	ctx := context.Background()
	require.NoError(t, p.Move(ctx, 1, 6*90, 0))
	require.Len(t, c.tasks, 1)
	assert.Equal(t, 5.0, c.tasks[0].To.Pen.Value())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	require.NoError(t, p.Move(ctx, 1, -12*90, 0))
	assert.Equal(t, 5.0, c.tasks[1].From.Pen.Value())
	assert.Equal(t, -5.0, c.tasks[1].To.Pen.Value())
}

func TestQuit(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	require.NoError(t, p.Quit(context.Background()))
	require.Len(t, c.tasks, 1)
	assert.True(t, c.tasks[0].Quit)
}

func TestFeederRunsJobsInOrder(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	log, _ := test.NewNullLogger()
	f := NewFeeder(p, 4, log)

	first := f.Submit("a", strings.NewReader("SP,1,500\nSM,1000,0,64\n# comment\n"))
	second := f.Submit("b", strings.NewReader("SM,500,90,0\r\nSP,0,250"))
	f.Close()
	require.NoError(t, f.Run(context.Background()))
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	require.Len(t, c.tasks, 5)
	assert.Equal(t, 0.5, c.tasks[0].Dt)
	assert.Equal(t, 1.0, c.tasks[1].Dt)
	assert.Equal(t, 0.5, c.tasks[2].Dt)
	assert.Equal(t, 0.25, c.tasks[3].Dt)
	assert.True(t, c.tasks[4].Quit)
	assert.Equal(t, uint64(2), f.Completed())
	assert.Equal(t, uint64(5), f.Lines())
	assert.Zero(t, f.Pending())
	assert.Empty(t, f.Current())

	assert.ErrorIs(t, <-f.Submit("late", strings.NewReader("")), ErrClosed)
}

func TestFeederMalformedIsFatal(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	log, _ := test.NewNullLogger()
	f := NewFeeder(p, 1, log)
	done := f.Submit("bad", strings.NewReader("SP,1,100\nSM,oops\nSP,0,100\n"))
	err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrMalformed)
	require.ErrorIs(t, <-done, ErrMalformed)
	assert.Len(t, c.tasks, 1)
}

func TestFeederStopsOnContext(t *testing.T) {
	p, _, _ := newPlanner(Options{})
	f := NewFeeder(p, 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Run(ctx), context.DeadlineExceeded)
}

type session struct {
	io.Reader
	bytes.Buffer
}

func (s *session) Read(b []byte) (int, error) { return s.Reader.Read(b) }

func TestSessionReplies(t *testing.T) {
	p, c, _ := newPlanner(Options{})
	f := NewFeeder(p, 1, nil)
	s := &session{Reader: strings.NewReader("V\rEM,1,1\rSP,0,100\rSM,100,0,64\r")}
	done := f.Session("serial", s)
	f.Close()
	require.NoError(t, f.Run(context.Background()))
	require.NoError(t, <-done)

	assert.Equal(t, VersionReply+"OK\r\nOK\r\nOK\r\n", s.String())
	assert.Len(t, c.tasks, 3)
}

func TestScanCommands(t *testing.T) {
	adv, tok, err := scanCommands([]byte("SP,1,1\rSM"), false)
	require.NoError(t, err)
	assert.Equal(t, 7, adv)
	assert.Equal(t, "SP,1,1", string(tok))

	adv, tok, _ = scanCommands([]byte("SM"), false)
	assert.Zero(t, adv)
	assert.Nil(t, tok)

	adv, tok, _ = scanCommands([]byte("SM"), true)
	assert.Equal(t, 2, adv)
	assert.Equal(t, "SM", string(tok))
}
