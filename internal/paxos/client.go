package paxos

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/wire"
)

// Client reads integer values line by line and submits each to the
// proposers group. No acknowledgement is awaited; it exits on EOF.
type Client struct {
	id       int
	conn     transport.Conn
	in       io.Reader
	log      zerolog.Logger
	nextInst int
}

// NewClient creates a client reading values from in.
func NewClient(id int, conn transport.Conn, in io.Reader, log zerolog.Logger) *Client {
	return &Client{id: id, conn: conn, in: in, log: log, nextInst: 1}
}

// Run submits one value per non-empty input line until EOF or ctx
// cancellation. Lines that do not parse as a 16-bit unsigned integer
// are skipped with a warning.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info().Msg("client up")
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil || v < 0 || v > wire.MaxChunk {
			c.log.Warn().Str("line", line).Msg("skipping non-integer value")
			continue
		}
		inst := c.nextInst
		c.nextInst++
		b, err := (wire.Submit{Inst: inst, Value: v}).Marshal()
		if err != nil {
			c.log.Error().Err(err).Msg("marshal failed")
			continue
		}
		if err := c.conn.Send(config.Proposers, b); err != nil {
			c.log.Warn().Err(err).Msg("send failed")
			continue
		}
		c.log.Info().Int("value", v).Msg("sending to proposers")
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "client: read input")
	}
	c.log.Info().Msg("client done")
	return nil
}
