package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/cubesat-eps/eps/hardware/bme280"
	"github.com/cubesat-eps/eps/hardware/spibus"
	"github.com/cubesat-eps/eps/helpers"
	"github.com/cubesat-eps/eps/internal/service"
	"github.com/cubesat-eps/eps/log2"
	"github.com/cubesat-eps/eps/tele/mirror"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

// Datasheet calibration, used by sensor mock.
var MockCalibration = bme280.Calibration{T1: 27504, T2: 26435, T3: -1000}

const MockRawDefault bme280.RawSample = 519888 // 25.08C with MockCalibration

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Pool         *telenet.Pool
	Assembler    *telemetry.Assembler
	Service      *service.Service
	Mirror       *mirror.Mirror
	Hardware     struct {
		Bus    spibus.Bus
		Sensor *bme280.Device
		Mock   *bme280.Mock
	}

	lk sync.Mutex

	// tests replace broker client
	XXX_mirrorOptions func(*mirror.Options)
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error state.NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
// Sensor failure is not an Init error, node keeps answering with fault records.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if err := cfg.Validate(g.Log); err != nil {
		return errors.Annotate(err, "config")
	}
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	g.Pool = telenet.NewPool(cfg.Network.BufferCount, cfg.Network.BufferSize)
	errs := make([]error, 0)

	g.Service = service.New(service.Options{
		Log:            g.Log.Named("service"),
		Node:           cfg.NodeAddr(),
		URL:            cfg.Network.Listen,
		Backlog:        cfg.Network.Backlog,
		AcceptTimeout:  cfg.AcceptTimeout(),
		NetworkTimeout: cfg.NetworkTimeout(),
		ReadLimit:      uint32(cfg.Network.ReadLimit),
		Pool:           g.Pool,
		OnReply:        g.onReply,
	})

	if err := g.initSensor(); err != nil {
		g.Error(err, "sensor init")
		g.Service.Register(telenet.PortPing, service.HandlerFunc(func(context.Context, *telenet.Packet) (telemetry.Record, error) {
			return telemetry.FaultRecord, errors.Annotate(err, "sensor unavailable")
		}))
	} else {
		g.Service.Register(telenet.PortPing, service.CollectHandler(g.Assembler))
	}

	if cfg.Mirror.Enable {
		if err := g.initMirror(); err != nil {
			errs = append(errs, errors.Annotate(err, "mirror init"))
		}
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) initSensor() error {
	cfg := g.Config
	if !cfg.Sensor.Enable {
		return errors.Errorf("sensor disabled in config")
	}
	g.lk.Lock()
	defer g.lk.Unlock()

	if g.Hardware.Bus == nil {
		if cfg.Sensor.Mock {
			g.Hardware.Mock = bme280.NewMock(bme280.ChipIDBME280, MockCalibration)
			raw := bme280.RawSample(cfg.Sensor.MockRaw)
			if raw == 0 {
				raw = MockRawDefault
			}
			g.Hardware.Mock.SetRawSample(raw)
			g.Hardware.Bus = g.Hardware.Mock
		} else {
			bus, err := spibus.Open(cfg.SpiConfig(), g.Log.Named("spibus"))
			if err != nil {
				return err
			}
			g.Hardware.Bus = bus
		}
	}

	g.Hardware.Sensor = bme280.New(g.Hardware.Bus, g.Log.Named("bme280"))
	cal, err := g.Hardware.Sensor.Init()
	if err != nil {
		return err
	}
	g.Log.Debugf("bme280 calibration %s", cal.String())
	g.Assembler = telemetry.NewAssembler(telemetry.AssemblerOptions{
		Log:    g.Log,
		Sensor: g.Hardware.Sensor,
		Cal:    cal,
		Status: byte(cfg.Node.Status),
	})
	return nil
}

func (g *Global) initMirror() error {
	cfg := g.Config
	opt := mirror.Options{
		Log:       g.Log.Named("mirror"),
		Broker:    cfg.Mirror.Broker,
		ClientID:  cfg.Mirror.ClientID,
		Node:      cfg.NodeAddr(),
		Topic:     cfg.Mirror.Topic,
		Timeout:   helpers.IntMillisecondDefault(cfg.Mirror.TimeoutMs, mirror.DefaultTimeout),
		KeepAlive: helpers.IntSecondDefault(cfg.Mirror.KeepaliveSec, mirror.DefaultKeepalive),
	}
	if g.XXX_mirrorOptions != nil {
		g.XXX_mirrorOptions(&opt)
	}
	m, err := mirror.New(opt)
	if err != nil {
		return err
	}
	mirror.SetLogger(opt.Log)
	g.Mirror = m
	return nil
}

func (g *Global) onReply(port telenet.Port, r telemetry.Record) {
	if g.Mirror != nil {
		g.Mirror.OnReply(port, r)
	}
}

// Run connects mirror and blocks in request service until ctx is done or Stop().
func (g *Global) Run(ctx context.Context) error {
	if !g.Alive.Add(1) {
		return service.ErrStopped
	}
	defer g.Alive.Done()
	go helpers.AliveSub(g.Alive, g.Service.Alive())

	if g.Mirror != nil {
		g.Mirror.Connect()
	}
	g.Log.Infof("node address=%d listen=%s", g.Config.Node.Address, g.Config.Network.Listen)
	return g.Service.Run(ctx)
}

// Stop request service, then release mirror and bus.
func (g *Global) Stop() {
	g.Alive.Stop()
	if g.Service != nil {
		g.Service.Stop()
		g.Service.Wait()
	}
	g.Alive.Wait()
	if g.Mirror != nil {
		g.Mirror.Close()
	}
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.Hardware.Bus != nil {
		if err := g.Hardware.Bus.Close(); err != nil {
			g.Error(err, "spibus close")
		}
		g.Hardware.Bus = nil
	}
}

// BusStat is nil unless real SPI bus is open.
func (g *Global) BusStat() *spibus.Stat {
	g.lk.Lock()
	defer g.lk.Unlock()
	if dev, ok := g.Hardware.Bus.(*spibus.Device); ok {
		return dev.Stat()
	}
	return nil
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}
