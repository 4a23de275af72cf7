// Command corerunner drives a Machine headlessly: load a cartridge (and an
// optional boot ROM), run it for a fixed number of frames or until its
// serial port reports a pass/fail marker, then optionally dump the final
// framebuffer as a PNG and check it against an expected CRC32.
package main

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/dmgcore/dmgcore/internal/cart"
	"github.com/dmgcore/dmgcore/internal/core"
)

var (
	passRe = regexp.MustCompile(`(?i)passed`)
	failRe = regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
)

func main() {
	app := &cli.App{
		Name:  "corerunner",
		Usage: "run a DMG ROM headlessly and report the outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rom", Required: true, Usage: "path to ROM (.gb)"},
			&cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM"},
			&cli.IntFlag{Name: "frames", Value: 3600, Usage: "max frames to run"},
			&cli.BoolFlag{Name: "auto", Usage: "stop early on a 'Passed'/'Failed N tests' serial marker"},
			&cli.DurationFlag{Name: "timeout", Usage: "wall-clock timeout, e.g. 30s (0 disables)"},
			&cli.StringFlag{Name: "outpng", Usage: "write the final framebuffer to this PNG path"},
			&cli.StringFlag{Name: "expect", Usage: "expected framebuffer CRC32 in hex"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("corerunner failed", "err", err)
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return cli.Exit(errors.Wrapf(err, "read rom %q", romPath), 2)
	}
	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			slog.Info("loaded ROM", "title", h.Title, "type", h.CartTypeStr, "banks", h.ROMBanks, "ram_bytes", h.RAMSizeBytes)
		}
	}

	var boot []byte
	if bp := c.String("bootrom"); bp != "" {
		boot, err = os.ReadFile(bp)
		if err != nil {
			return cli.Exit(errors.Wrapf(err, "read bootrom %q", bp), 2)
		}
	}

	m := core.New(core.Config{})
	if err := m.LoadROM(rom, boot); err != nil {
		return cli.Exit(errors.Wrap(err, "load cartridge"), 2)
	}

	var serial bytes.Buffer
	m.SetSerialWriter(&serial)

	auto := c.Bool("auto")
	frames := c.Int("frames")
	var deadline time.Time
	if d := c.Duration("timeout"); d > 0 {
		deadline = time.Now().Add(d)
	}

	start := time.Now()
	ranFrames := 0
	for i := 0; i < frames; i++ {
		if err := m.StepFrameNoRender(); err != nil {
			return cli.Exit(errors.Wrap(err, "step frame"), 1)
		}
		ranFrames = i + 1

		if auto {
			out := serial.String()
			if passRe.MatchString(out) {
				slog.Info("serial reported pass", "frames", ranFrames, "elapsed", time.Since(start).Truncate(time.Millisecond))
				return finish(c, m)
			}
			if mm := failRe.FindStringSubmatch(out); mm != nil {
				slog.Error("serial reported failure", "detail", mm[0], "frames", ranFrames)
				return cli.Exit(fmt.Sprintf("test ROM failed: %s", mm[0]), 1)
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			slog.Warn("timeout waiting for serial marker", "frames", ranFrames)
			return cli.Exit("timeout", 2)
		}
	}

	if auto {
		return cli.Exit(fmt.Sprintf("no pass/fail marker after %d frames; last serial:\n%s", ranFrames, strings.TrimSpace(serial.String())), 1)
	}
	slog.Info("ran to frame limit", "frames", ranFrames, "elapsed", time.Since(start).Truncate(time.Millisecond))
	return finish(c, m)
}

func finish(c *cli.Context, m *core.Machine) error {
	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	slog.Info("final framebuffer", "crc32", fmt.Sprintf("%08x", crc))

	if out := c.String("outpng"); out != "" {
		if err := writeFramePNG(fb, out); err != nil {
			return cli.Exit(errors.Wrap(err, "write PNG"), 1)
		}
		slog.Info("wrote framebuffer PNG", "path", out)
	}

	if want := c.String("expect"); want != "" {
		wantNorm := strings.TrimPrefix(strings.ToLower(want), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != wantNorm {
			return cli.Exit(fmt.Sprintf("framebuffer checksum mismatch: got %s, want %s", got, wantNorm), 1)
		}
	}
	return nil
}

func writeFramePNG(pix []byte, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
