package state

import (
	"path/filepath"
	"time"

	"github.com/cubesat-eps/eps/hardware/spibus"
	"github.com/cubesat-eps/eps/helpers"
	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"periph.io/x/periph/conn/physic"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Node struct {
		Address    int `hcl:"address"`
		Controller int `hcl:"controller"`
		// reply status byte, placeholder for current channel
		Status int `hcl:"status"`
	} `hcl:"node"`

	Network struct {
		Listen           string `hcl:"listen"`
		Backlog          int    `hcl:"backlog"`
		AcceptTimeoutMs  int    `hcl:"accept_timeout_ms"`
		NetworkTimeoutMs int    `hcl:"network_timeout_ms"`
		ReadLimit        int    `hcl:"read_limit"`
		BufferCount      int    `hcl:"buffer_count"`
		BufferSize       int    `hcl:"buffer_size"`
	} `hcl:"network"`

	Sensor struct {
		Enable    bool   `hcl:"enable"`
		Spi       string `hcl:"spi"`
		SpeedKhz  int    `hcl:"speed_khz"`
		CSChip    string `hcl:"cs_chip"`
		CSLine    int    `hcl:"cs_line"`
		TimeoutMs int    `hcl:"timeout_ms"`
		// register level emulation instead of SPI, for bench runs without hardware
		Mock    bool `hcl:"mock"`
		MockRaw int  `hcl:"mock_raw"`
	} `hcl:"sensor"`

	Mirror struct {
		Enable       bool   `hcl:"enable"`
		Broker       string `hcl:"broker"`
		ClientID     string `hcl:"client_id"`
		Topic        string `hcl:"topic"`
		TimeoutMs    int    `hcl:"timeout_ms"`
		KeepaliveSec int    `hcl:"keepalive_sec"`
	} `hcl:"mirror"`

	LogDebug bool `hcl:"log_debug"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) NodeAddr() telenet.Addr       { return telenet.Addr(c.Node.Address) }
func (c *Config) ControllerAddr() telenet.Addr { return telenet.Addr(c.Node.Controller) }

func (c *Config) AcceptTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Network.AcceptTimeoutMs, telenet.DefaultAcceptTimeout)
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Network.NetworkTimeoutMs, telenet.DefaultNetworkTimeout)
}

func (c *Config) SpiConfig() spibus.Config {
	return spibus.Config{
		Port:    c.Sensor.Spi,
		Speed:   physic.Frequency(c.Sensor.SpeedKhz) * physic.KiloHertz,
		Timeout: helpers.IntMillisecondDefault(c.Sensor.TimeoutMs, spibus.DefaultTimeout),
		CSChip:  c.Sensor.CSChip,
		CSLine:  uint32(c.Sensor.CSLine),
	}
}

// Validate fills defaults and rejects values that do not fit wire format.
func (c *Config) Validate(log *log2.Log) error {
	errs := make([]error, 0)
	if c.Node.Address == 0 {
		c.Node.Address = int(telenet.AddrNode)
	}
	if c.Node.Controller == 0 {
		c.Node.Controller = int(telenet.AddrController)
	}
	if c.Node.Address < 0 || c.Node.Address > 0xff {
		errs = append(errs, errors.NotValidf("config: node.address=%d", c.Node.Address))
	}
	if c.Node.Controller < 0 || c.Node.Controller > 0xff {
		errs = append(errs, errors.NotValidf("config: node.controller=%d", c.Node.Controller))
	}
	if c.Node.Status == 0 {
		c.Node.Status = 1
	} else if c.Node.Status < 0 || c.Node.Status > 0xfe {
		// 0xff is reserved for sensor fault
		errs = append(errs, errors.NotValidf("config: node.status=%d", c.Node.Status))
	}

	if c.Network.Listen == "" {
		c.Network.Listen = "tcp://:7001"
		log.Debugf("config: network.listen is not set, default=%s", c.Network.Listen)
	}
	if c.Network.Backlog <= 0 {
		c.Network.Backlog = telenet.DefaultBacklog
	}
	if c.Network.BufferCount <= 0 {
		c.Network.BufferCount = telenet.DefaultBufferCount
	}
	if c.Network.BufferSize <= 0 {
		c.Network.BufferSize = telenet.DefaultBufferSize
	}
	if c.Network.BufferSize < telemetry.RecordSize {
		errs = append(errs, errors.NotValidf("config: network.buffer_size=%d less than record size=%d", c.Network.BufferSize, telemetry.RecordSize))
	}
	if c.Network.ReadLimit <= 0 || c.Network.ReadLimit > c.Network.BufferSize {
		c.Network.ReadLimit = c.Network.BufferSize
	}

	if c.Sensor.Enable && !c.Sensor.Mock && c.Sensor.Spi == "" {
		errs = append(errs, errors.NotValidf("config: sensor.spi empty"))
	}
	if c.Sensor.SpeedKhz <= 0 {
		c.Sensor.SpeedKhz = int(spibus.DefaultSpeed / physic.KiloHertz)
	}
	if c.Sensor.CSChip != "" && c.Sensor.CSLine < 0 {
		errs = append(errs, errors.NotValidf("config: sensor.cs_line=%d", c.Sensor.CSLine))
	}

	if c.Mirror.Enable && c.Mirror.Broker == "" {
		errs = append(errs, errors.NotValidf("config: mirror.broker empty"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(log); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
