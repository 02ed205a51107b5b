package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cubesat-eps/eps/hardware/bme280"
	"github.com/cubesat-eps/eps/helpers"
	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

var testCal = bme280.Calibration{T1: 27504, T2: 26435, T3: -1000}

func newTestAssembler(t testing.TB) (*telemetry.Assembler, *bme280.Mock) {
	log := log2.NewTest(t, log2.LDebug)
	mock := bme280.NewMock(bme280.ChipIDBME280, testCal)
	dev := bme280.New(mock, log)
	cal, err := dev.Init()
	require.NoError(t, err)
	mock.SetRawSample(519888)
	return telemetry.NewAssembler(telemetry.AssemblerOptions{Log: log, Sensor: dev, Cal: cal}), mock
}

func fastBackoff() helpers.Backoff {
	return helpers.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, K: 2}
}

// startService runs s until test cleanup.
func startService(t testing.TB, s *Service) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Wait()
		assert.NoError(t, <-done)
		assert.Equal(t, StateStop, s.State())
	})
}

func TestServeLoopback(t *testing.T) {
	t.Parallel()
	asm, mock := newTestAssembler(t)
	pool := telenet.NewPool(2, 300)
	replies := make(chan telemetry.Record, 16)
	s := New(Options{
		Log:            log2.NewTest(t, log2.LDebug),
		URL:            "tcp://127.0.0.1:0",
		NetworkTimeout: time.Second,
		Pool:           pool,
		OnReply: func(port telenet.Port, r telemetry.Record) {
			if port == telenet.PortPing {
				replies <- r
			}
		},
	})
	s.Register(telenet.PortPing, CollectHandler(asm))
	startService(t, s)
	require.Eventually(t, func() bool { return s.Addr() != "" }, waitFor, time.Millisecond)

	client, err := telenet.NewClient(telenet.ClientOptions{
		ConnOptions: telenet.ConnOptions{NetworkTimeout: time.Second},
		URL:         "tcp://" + s.Addr(),
	})
	require.NoError(t, err)
	request := func(port telenet.Port, payload []byte) []byte {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		reply, err := client.Request(ctx, telenet.AddrNode, port, payload)
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, []byte{0x01, 25}, request(telenet.PortPing, nil))
	assert.Equal(t, telemetry.Record{Status: 1, Temperature: 25}, <-replies)
	assert.Equal(t, []byte{0, 0}, request(telenet.PortData, nil))
	assert.Equal(t, []byte{0, 0}, request(7, []byte("any payload")))
	assert.Equal(t, []byte{0, 0}, request(63, []byte{0x01}))

	mock.SetRawSample(400000)
	assert.Equal(t, []byte{0x01, 0xf4}, request(telenet.PortPing, []byte("ignored")))
	mock.SetRawSample(0x80000)
	assert.Equal(t, []byte{0xff, 0x00}, request(telenet.PortPing, nil))

	require.Eventually(t, func() bool { return s.Stat().Served.Value() == 6 }, waitFor, time.Millisecond)
	assert.Equal(t, int64(6), s.Stat().Accepted.Value())
	assert.Equal(t, int64(3), s.Stat().Unknown.Value())
	assert.Equal(t, int64(1), s.Stat().Fault.Value())
	require.Eventually(t, func() bool { return pool.InUse() == 0 }, waitFor, time.Millisecond)
}

func TestUnknownPortSentinel(t *testing.T) {
	t.Parallel()
	asm, _ := newTestAssembler(t)
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	s.Register(telenet.PortPing, CollectHandler(asm))
	startService(t, s)

	for port := telenet.Port(0); port < 64; port++ {
		conn := newFakeConn(pool, port, []byte{0xde, 0xad})
		sock.conns <- conn
		reply := <-conn.reply
		require.Len(t, reply, telemetry.RecordSize)
		if port == telenet.PortPing {
			assert.Equal(t, []byte{0x01, 25}, reply)
		} else {
			assert.Equal(t, []byte{0, 0}, reply, "port=%d", port)
		}
		<-conn.closed
	}
	assert.Equal(t, 0, pool.InUse())
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	asm, _ := newTestAssembler(t)
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	s.Register(telenet.PortPing, CollectHandler(asm))
	s.Register(telenet.PortData, SentinelHandler)
	startService(t, s)

	s.Unregister(telenet.PortPing)
	conn := newFakeConn(pool, telenet.PortPing, nil)
	sock.conns <- conn
	assert.Equal(t, []byte{0, 0}, <-conn.reply)
}

func TestHandlerError(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	s.Register(telenet.PortPing, HandlerFunc(func(ctx context.Context, req *telenet.Packet) (telemetry.Record, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, []byte("req"), req.Payload())
		return telemetry.Record{Status: 1, Temperature: 99}, fmt.Errorf("bus fault")
	}))
	startService(t, s)

	conn := newFakeConn(pool, telenet.PortPing, []byte("req"))
	sock.conns <- conn
	assert.Equal(t, []byte{0xff, 0x00}, <-conn.reply)
	<-conn.closed
	assert.Equal(t, int64(1), s.Stat().Fault.Value())
}

func TestSocketFailureKeepsServing(t *testing.T) {
	t.Parallel()
	asm, _ := newTestAssembler(t)
	pool := telenet.NewPool(2, 300)
	badBind := newFakeSocket()
	badBind.bindErr = fmt.Errorf("address in use")
	good := newFakeSocket()
	seq := &socketSeq{results: []socketResult{
		{err: fmt.Errorf("no socket")},
		{err: fmt.Errorf("no socket")},
		{sock: badBind},
		{sock: good},
	}}
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: seq.New,
		Backoff:   fastBackoff(),
	})
	s.Register(telenet.PortPing, CollectHandler(asm))
	startService(t, s)

	conn := newFakeConn(pool, telenet.PortPing, nil)
	good.conns <- conn
	assert.Equal(t, []byte{0x01, 25}, <-conn.reply)
	assert.Equal(t, 4, seq.Calls())
	assert.Equal(t, int64(3), s.Stat().EndpointError.Value())
	assert.True(t, badBind.Closed(), "failed endpoint must be closed")
}

func TestListenFailureStillBinds(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	sock.listenErr = fmt.Errorf("listen not supported")
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		URL:       "tcp://:7001",
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	startService(t, s)

	assert.Equal(t, "tcp://:7001", <-sock.bound)
	conn := newFakeConn(pool, telenet.PortPing, nil)
	sock.conns <- conn
	assert.Equal(t, []byte{0, 0}, <-conn.reply)
	assert.Equal(t, int64(1), s.Stat().EndpointError.Value())
}

func TestAcceptErrorReopensEndpoint(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	first, second := newFakeSocket(), newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: first}, {sock: second}}}).New,
		Backoff:   fastBackoff(),
	})
	startService(t, s)

	<-first.bound
	require.NoError(t, first.Close())
	<-second.bound
	conn := newFakeConn(pool, 5, nil)
	second.conns <- conn
	assert.Equal(t, []byte{0, 0}, <-conn.reply)
}

func TestAcceptErrorBacksOff(t *testing.T) {
	t.Parallel()
	const backoffMin = 50 * time.Millisecond
	first, second := newFakeSocket(), newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		NewSocket: (&socketSeq{results: []socketResult{{sock: first}, {sock: second}}}).New,
		Backoff:   helpers.Backoff{Min: backoffMin, Max: 2 * backoffMin, K: 2},
	})
	startService(t, s)

	<-first.bound
	tbegin := time.Now()
	require.NoError(t, first.Close())
	<-second.bound
	assert.True(t, time.Since(tbegin) >= backoffMin, "reopen after %v", time.Since(tbegin))
	assert.Equal(t, int64(1), s.Stat().EndpointError.Value())
}

func TestSendFailureFreesBuffer(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	s.Register(telenet.PortPing, SentinelHandler)
	startService(t, s)

	for i := 0; i < 5; i++ {
		bad := newFakeConn(pool, telenet.PortPing, nil)
		bad.sendErr = fmt.Errorf("link down")
		sock.conns <- bad
		<-bad.closed
		assert.Equal(t, 0, pool.InUse(), "iteration=%d", i)
	}
	assert.Equal(t, int64(5), s.Stat().SendError.Value())

	// pool of 2 buffers would be exhausted if any leaked
	good := newFakeConn(pool, telenet.PortPing, nil)
	sock.conns <- good
	assert.Equal(t, []byte{0, 0}, <-good.reply)
}

func TestReadFailureContinues(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	startService(t, s)

	bad := newFakeConn(pool, telenet.PortPing, nil)
	bad.readErr = telenet.ErrTimeout
	sock.conns <- bad
	<-bad.closed

	good := newFakeConn(pool, telenet.PortPing, nil)
	sock.conns <- good
	assert.Equal(t, []byte{0, 0}, <-good.reply)
	<-good.closed
	assert.Equal(t, int64(1), s.Stat().ReadError.Value())
	assert.Equal(t, int64(2), s.Stat().Accepted.Value())
}

func TestStateCycle(t *testing.T) {
	t.Parallel()
	pool := telenet.NewPool(2, 300)
	sock := newFakeSocket()
	states := make(chan State, 1024)
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		Pool:      pool,
		NewSocket: (&socketSeq{results: []socketResult{{sock: sock}}}).New,
	})
	assert.Equal(t, StateIdle, s.State())
	s.XXX_testHook = func(next State) {
		select {
		case states <- next:
		default:
		}
	}
	conn := newFakeConn(pool, telenet.PortPing, nil)
	sock.conns <- conn
	startService(t, s)
	<-conn.closed

	// conn is queued before Run, so first Accept does not time out
	expect := []State{StateListening, StateAccepting, StateProcessing, StateResponding, StateClosed, StateListening}
	got := make([]State, 0, len(expect))
	for len(got) < len(expect) {
		got = append(got, <-states)
	}
	assert.Equal(t, expect, got)
}

func TestRunStop(t *testing.T) {
	t.Parallel()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		NewSocket: (&socketSeq{results: []socketResult{{sock: newFakeSocket()}}}).New,
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == StateAccepting || s.State() == StateListening }, waitFor, time.Millisecond)
	s.Stop()
	s.Wait()
	require.NoError(t, <-done)
	assert.Equal(t, StateStop, s.State())
	assert.Error(t, s.Run(context.Background()), "second Run")
}

func TestRunAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Options{
		Log:       log2.NewTest(t, log2.LDebug),
		NewSocket: (&socketSeq{results: []socketResult{{sock: newFakeSocket()}}}).New,
	})
	s.Stop()
	err := s.Run(context.Background())
	assert.Equal(t, ErrStopped, err)
	assert.Equal(t, "service stopped", err.Error())
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Accepting", StateAccepting.String())
	assert.Equal(t, "State(42)", State(42).String())
}
