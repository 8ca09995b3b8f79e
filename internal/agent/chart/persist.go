package chart

import (
	"context"
	"fmt"

	"github.com/Chative-data-agent/server/internal/agent/model"
	"github.com/Chative-data-agent/server/internal/agent/tabular"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// Persist stores the result table, the spec and the image of a rendered
// chart and points the conversation's chart_image_name at the image.
// Candidates that never rendered are left alone.
func Persist(ctx context.Context, artifacts model.ArtifactStore, state model.StateStore, conversationID string, c *model.ChartCandidate) error {
	if c == nil || c.Image == nil {
		return nil
	}
	if c.InvocationID == "" {
		return fmt.Errorf("chart: candidate has no invocation id")
	}

	data, err := tabular.EncodeParquet(c.Result)
	if err != nil {
		return err
	}
	dataName := c.InvocationID + ".parquet"
	specName := c.InvocationID + ".vg"
	imageName := c.InvocationID + ".png"

	for _, a := range []struct {
		name string
		data []byte
		mime string
	}{
		{dataName, data, "application/parquet"},
		{specName, []byte(c.Spec), "application/json"},
		{imageName, c.Image, "image/png"},
	} {
		if err := artifacts.Save(ctx, conversationID, a.name, a.data, a.mime); err != nil {
			return err
		}
	}
	if err := state.Set(ctx, conversationID, model.ChartImageStateKey, imageName); err != nil {
		return err
	}

	c.DataName, c.SpecName, c.ImageName = dataName, specName, imageName
	logx.Info().Str("conversation_id", conversationID).Str("image", imageName).Msg("chart artifacts saved")
	return nil
}
