package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Chative-data-agent/server/internal/agent/model"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// Renderer turns a spec with bound data into a PNG.
type Renderer interface {
	Render(ctx context.Context, spec Spec, ppi int) ([]byte, error)
}

// VLConvert renders through the vl-convert command line tool.
type VLConvert struct {
	Command string
	Timeout time.Duration
}

func NewVLConvert(cfg model.RenderConfig) *VLConvert {
	cmd := cfg.Command
	if cmd == "" {
		cmd = "vl-convert"
	}
	return &VLConvert{Command: cmd, Timeout: cfg.Timeout}
}

// Render returns *RenderError when the tool rejects the spec. A missing
// binary or an expired context is returned as is.
func (v *VLConvert) Render(ctx context.Context, spec Spec, ppi int) ([]byte, error) {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "chart-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	doc, err := spec.JSON()
	if err != nil {
		return nil, err
	}
	in := filepath.Join(dir, "chart.vl.json")
	out := filepath.Join(dir, "chart.png")
	if err := os.WriteFile(in, []byte(doc), 0o600); err != nil {
		return nil, fmt.Errorf("write chart spec: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, v.Command, "vl2png", "--input", in, "--output", out, "--ppi", strconv.Itoa(ppi))
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render chart: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return nil, &RenderError{Kind: KindRender, Message: msg}
		}
		return nil, fmt.Errorf("run %s: %w", v.Command, err)
	}

	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read rendered chart: %w", err)
	}
	if !bytes.HasPrefix(png, pngSignature) {
		return nil, &RenderError{Kind: KindRender, Message: "renderer produced no PNG image"}
	}
	logx.Debug().Int("bytes", len(png)).Int("ppi", ppi).Dur("took", time.Since(start)).Msg("chart rendered")
	return png, nil
}
