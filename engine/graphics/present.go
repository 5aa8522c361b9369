package graphics

import (
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
)

// PresentCallback is the frame graph callback that copies the LightBuffer into the backbuffer.
const PresentCallback = "Present"

func registerPresent(graph framegraph.FrameGraph) error {
	return graph.AddCallback(PresentCallback, present, framegraph.Reads(framegraph.LightBuffer))
}

// present blits the LightBuffer into the backbuffer. Backends without a backbuffer skip it.
func present(ctx *framegraph.FrameContext) error {
	backbuffer := ctx.Backend.Backbuffer()
	if !backbuffer.Valid() {
		return nil
	}
	light, err := ctx.Resources.Texture(framegraph.LightBuffer)
	if err != nil {
		return err
	}
	barrier := renderer.Barrier{
		Name:      "Present",
		FromStage: renderer.StagePixelShader | renderer.StageColorWrite,
		ToStage:   renderer.StageTransfer,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(light, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutTransferSrc),
			renderer.Transition(backbuffer, renderer.AllSubresources, renderer.LayoutPresent, renderer.LayoutTransferDst),
		},
	}
	ctx.Backend.InsertBarrier(barrier)
	ctx.Backend.Blit(light, backbuffer)
	ctx.Backend.InsertBarrier(barrier.Reverse())
	return nil
}
