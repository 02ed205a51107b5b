package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
	"github.com/juju/errors"
)

type session struct {
	client  *telenet.Client
	log     *log2.Log
	node    telenet.Addr
	out     io.Writer
	timeout time.Duration
}

func (s *session) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	args := words[1:]
	switch words[0] {
	case "help":
		_, _ = io.WriteString(s.out, usage)
		return nil

	case "ping":
		n := uint64(1)
		if len(args) > 1 {
			return errors.Errorf("ping: expected at most one argument")
		}
		if len(args) == 1 {
			var err error
			if n, err = strconv.ParseUint(args[0], 10, 16); err != nil || n == 0 {
				return errors.NotValidf("ping count=%s", args[0])
			}
		}
		for i := uint64(0); i < n; i++ {
			if err := s.ping(ctx); err != nil {
				return err
			}
		}
		return nil

	case "port":
		if len(args) < 1 || len(args) > 2 {
			return errors.Errorf("port: expected port number and optional hex payload")
		}
		port, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return errors.NotValidf("port=%s", args[0])
		}
		var payload []byte
		if len(args) == 2 {
			if payload, err = hex.DecodeString(args[1]); err != nil {
				return errors.Annotatef(err, "payload=%s", args[1])
			}
		}
		return s.request(ctx, telenet.Port(port), payload)

	case "stat":
		fmt.Fprintf(s.out, "%s\n", s.client.Stat().String())
		return nil

	case "log=yes":
		s.log.SetLevel(log2.LDebug)
		return nil

	case "log=no":
		s.log.SetLevel(log2.LInfo)
		return nil
	}
	return errors.Errorf("invalid command: '%s'", words[0])
}

func (s *session) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tbegin := time.Now()
	b, err := s.client.Ping(ctx, s.node)
	if err != nil {
		return errors.Annotate(err, "ping")
	}
	var r telemetry.Record
	if err := r.UnmarshalBinary(b); err != nil {
		return errors.Annotatef(err, "ping reply=%x", b)
	}
	fmt.Fprintf(s.out, "< %s rtt=%v\n", r.String(), time.Since(tbegin).Round(time.Microsecond))
	return nil
}

func (s *session) request(ctx context.Context, port telenet.Port, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	b, err := s.client.Request(ctx, s.node, port, payload)
	if err != nil {
		return errors.Annotatef(err, "port=%d", port)
	}
	fmt.Fprintf(s.out, "< %x\n", b)
	return nil
}
